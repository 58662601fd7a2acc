// Package clock provides an injectable UTC time source so that every timing
// decision in the workflow engine is deterministic under test.
package clock

import "time"

// Clock is the minimal time source consumed by the engine.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock, always in UTC.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	t time.Time
}

// NewFixed creates a Fixed clock pinned to t (converted to UTC).
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

func (f *Fixed) Now() time.Time {
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

// Set pins the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.t = t.UTC()
}
