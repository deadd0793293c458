package engine

import "time"

// Stopper cancels a pending deadline callback.
type Stopper interface {
	Stop() bool
}

// Clock is the engine's only source of time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// SystemClock uses the runtime timers.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }
