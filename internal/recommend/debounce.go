package recommend

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one callback after a quiet
// window. Because the callback derives state from the current cart rather
// than from the triggering mutation, the coalesced result is identical to
// running once per mutation.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer that invokes fn after window of quiet. A
// zero window invokes fn synchronously on every trigger.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

// Trigger schedules (or reschedules) the callback.
func (d *Debouncer) Trigger() {
	if d.window <= 0 {
		d.fn()
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
