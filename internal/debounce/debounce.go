// Package debounce implements the trailing-edge timer shared by the
// persistence coordinator (tier 1) and the derivative cache managers
// (tier 2). Each trigger cancels and reschedules the pending fire, so a
// burst of triggers collapses into a single invocation after a quiet period.
package debounce

import (
	"sync"
	"time"
)

// Timer is an owned, cancelable trailing-edge debounce handle. The callback
// runs on the timer goroutine; callers needing to block on completion should
// use Flush.
type Timer struct {
	mu      sync.Mutex
	window  time.Duration
	fn      func()
	pending *time.Timer
	stopped bool
}

// New creates a Timer that invokes fn once the window elapses without a new
// trigger. The timer starts idle.
func New(window time.Duration, fn func()) *Timer {
	return &Timer{window: window, fn: fn}
}

// Trigger schedules (or reschedules) the callback. An already pending fire is
// canceled rather than queued, so N triggers within one window produce
// exactly one invocation.
func (t *Timer) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.pending != nil {
		t.pending.Stop()
	}
	t.pending = time.AfterFunc(t.window, func() {
		t.mu.Lock()
		t.pending = nil
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			t.fn()
		}
	})
}

// Flush cancels any pending fire and runs the callback immediately on the
// calling goroutine if one was scheduled. Used on shutdown/drain paths.
func (t *Timer) Flush() {
	t.mu.Lock()
	hadPending := t.pending != nil && t.pending.Stop()
	t.pending = nil
	t.mu.Unlock()
	if hadPending {
		t.fn()
	}
}

// Stop cancels any pending fire and prevents future triggers from scheduling.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
