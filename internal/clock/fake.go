package clock

import "time"

// FakeClock is a manually advanced Clock for tests that walk through retry
// offsets and dedup windows without sleeping.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

// Now returns the frozen instant; it only moves through Advance.
func (f *FakeClock) Now() time.Time { return f.now }

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }
