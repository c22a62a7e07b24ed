package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the hold/payment lifecycle.
type BookingMetrics struct {
	holdsStarted  prometheus.Counter
	holdsReset    prometheus.Counter
	holdsExpired  prometheus.Counter
	slotsReleased *prometheus.CounterVec
	payments      *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		holdsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oohdoc",
			Subsystem: "booking",
			Name:      "holds_started_total",
			Help:      "Total slot holds started",
		}),
		holdsReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oohdoc",
			Subsystem: "booking",
			Name:      "holds_reset_total",
			Help:      "Total hold timer resets (slot swaps, card interaction)",
		}),
		holdsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oohdoc",
			Subsystem: "booking",
			Name:      "holds_expired_total",
			Help:      "Total holds that reached the end of the window unpaid",
		}),
		slotsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oohdoc",
			Subsystem: "booking",
			Name:      "slots_released_total",
			Help:      "Total release_slot dispatches",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oohdoc",
			Subsystem: "payments",
			Name:      "attempts_total",
			Help:      "Total payment attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.holdsStarted, m.holdsReset, m.holdsExpired, m.slotsReleased, m.payments)
	return m
}

func (m *BookingMetrics) ObserveHoldStarted() {
	if m == nil {
		return
	}
	m.holdsStarted.Inc()
}

func (m *BookingMetrics) ObserveHoldReset() {
	if m == nil {
		return
	}
	m.holdsReset.Inc()
}

func (m *BookingMetrics) ObserveHoldExpired() {
	if m == nil {
		return
	}
	m.holdsExpired.Inc()
}

func (m *BookingMetrics) ObserveRelease(status string) {
	if m == nil {
		return
	}
	m.slotsReleased.WithLabelValues(status).Inc()
}

// ObservePayment records a payment attempt outcome: "initiated",
// "succeeded", "failed" or "setup_error".
func (m *BookingMetrics) ObservePayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

// GatewayMetrics tracks requests to the workflow gateway.
type GatewayMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oohdoc",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total workflow gateway requests",
		}, []string{"workflowtype", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oohdoc",
			Subsystem: "gateway",
			Name:      "request_latency_seconds",
			Help:      "Latency of workflow gateway requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflowtype"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *GatewayMetrics) ObserveRequest(workflowtype, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(workflowtype, status).Inc()
}

func (m *GatewayMetrics) ObserveLatency(workflowtype string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(workflowtype).Observe(seconds)
}
