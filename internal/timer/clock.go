package timer

import "time"

// Handle is a pending callback that can be stopped before it runs.
type Handle interface {
	Stop() bool
}

// Clock abstracts wall time so timers can be driven deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}
