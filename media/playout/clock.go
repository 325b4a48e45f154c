package playout

import "time"

// Clock abstracts the pacing loop's time source so tests can drive the
// engine against a virtual clock. time.Time carries a monotonic reading when
// obtained from the real clock, which is what the scheduler arithmetic
// relies on.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the monotonic wall clock used in production.
func SystemClock() Clock { return realClock{} }
