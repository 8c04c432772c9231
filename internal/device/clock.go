package device

import "time"

// Clock abstracts wall-clock time and deferred execution so revert timing
// is testable with a virtual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func())
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return realClock{} }
