package autosave

import "time"

// Timer is a pending call scheduled by Clock.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so scheduling could be driven manually.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is wall clock.
var SystemClock Clock = systemClock{}
