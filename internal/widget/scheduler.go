package widget

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// WallClock schedules with time.AfterFunc.
type WallClock struct{}

func (WallClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
