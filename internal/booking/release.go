package booking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oohdoc/booking-platform/internal/observability/metrics"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

// slotReleaser is the release surface of the workflow gateway.
type slotReleaser interface {
	ReleaseSlot(ctx context.Context, visitID, appointmentID int64) (json.RawMessage, error)
}

// ReleaseDispatcher frees held slots best-effort. Failures and timeouts
// are logged and swallowed; nothing
// here may block or fail the surrounding booking flow.
type ReleaseDispatcher struct {
	gateway slotReleaser
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewReleaseDispatcher creates a dispatcher over the given gateway.
func NewReleaseDispatcher(gw slotReleaser, logger *logging.Logger, m *metrics.BookingMetrics) *ReleaseDispatcher {
	if gw == nil {
		panic("booking: release dispatcher requires a gateway")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReleaseDispatcher{
		gateway: gw,
		logger:  logger,
		metrics: m,
		timeout: 10 * time.Second,
	}
}

// Dispatch fires a release for the given identifiers and returns
// immediately.
func (d *ReleaseDispatcher) Dispatch(visitID, appointmentID int64) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(visitID, appointmentID)
	}()
}

// Flush waits for in-flight releases; called on shutdown.
func (d *ReleaseDispatcher) Flush() {
	d.wg.Wait()
}

func (d *ReleaseDispatcher) dispatch(visitID, appointmentID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	payload, err := d.gateway.ReleaseSlot(ctx, visitID, appointmentID)
	if err != nil {
		d.metrics.ObserveRelease("error")
		d.logger.Warn("slot release failed",
			"visit_id", visitID,
			"appointment_id", appointmentID,
			"error", err,
		)
		return
	}

	d.metrics.ObserveRelease("ok")
	d.logger.Info("slot released",
		"visit_id", visitID,
		"appointment_id", appointmentID,
		"response", string(payload),
	)
}
