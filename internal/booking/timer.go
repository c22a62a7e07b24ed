package booking

import (
	"sync"
	"time"
)

type timerState int

const (
	timerIdle timerState = iota
	timerRunning
	timerExpired
)

// HoldTimer is the countdown clock for one session's slot hold.
// Lifecycle: Idle → Running → Expired, with Running → Running on Reset.
// The expiry callback fires at most once per armed cycle, asynchronously,
// and receives the hold generation it was armed for; handlers compare it
// with the current generation before acting so a hold replaced after
// arming is never released by a stale cycle.
type HoldTimer struct {
	mu        sync.Mutex
	window    int
	interval  time.Duration
	remaining int
	state     timerState
	visible   bool
	gen       uint64
	cancel    chan struct{}
	onExpire  func(gen uint64)
}

// TimerOption configures a HoldTimer.
type TimerOption func(*HoldTimer)

// WithTickInterval overrides the 1-second tick, for tests.
func WithTickInterval(d time.Duration) TimerOption {
	return func(t *HoldTimer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// NewHoldTimer creates an idle timer with the given window in seconds.
func NewHoldTimer(windowSeconds int, onExpire func(gen uint64), opts ...TimerOption) *HoldTimer {
	t := &HoldTimer{
		window:   windowSeconds,
		interval: time.Second,
		onExpire: onExpire,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start arms the countdown. It is a no-op while already running and
// reports whether a new cycle was started.
func (t *HoldTimer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == timerRunning {
		return false
	}
	t.arm()
	return true
}

// Reset cancels the current cycle and re-arms at the full window. The
// timer is running afterwards regardless of its prior state; a reset
// after expiry arms a fresh single-fire cycle.
func (t *HoldTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arm()
}

// Stop cancels scheduling, returns to Idle and hides the countdown.
func (t *HoldTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
	t.state = timerIdle
	t.visible = false
	t.remaining = 0
}

// Snapshot returns the current countdown view.
func (t *HoldTimer) Snapshot() HoldSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return HoldSnapshot{
		RemainingSeconds: t.remaining,
		Active:           t.state == timerRunning,
		Visible:          t.visible,
		Expired:          t.state == timerExpired,
		Generation:       t.gen,
	}
}

// Generation returns the current hold generation. It advances on every
// Start/Reset arming.
func (t *HoldTimer) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// Expired reports whether the current cycle has run out.
func (t *HoldTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == timerExpired
}

// arm starts a new cycle. Caller holds t.mu.
func (t *HoldTimer) arm() {
	if t.cancel != nil {
		close(t.cancel)
	}
	t.cancel = make(chan struct{})
	t.gen++
	t.remaining = t.window
	t.state = timerRunning
	t.visible = true
	go t.run(t.gen, t.cancel)
}

func (t *HoldTimer) run(gen uint64, cancel chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.gen != gen || t.state != timerRunning {
				t.mu.Unlock()
				return
			}
			t.remaining--
			if t.remaining > 0 {
				t.mu.Unlock()
				continue
			}
			t.state = timerExpired
			cb := t.onExpire
			t.mu.Unlock()
			// Fired from a fresh goroutine so the handler reads state as
			// it is at callback time, not as it was at arming time.
			if cb != nil {
				go cb(gen)
			}
			return
		}
	}
}
