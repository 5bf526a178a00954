package services

import "time"

// Clock supplies the current time. Deadline logic goes through this so
// tests can pin time exactly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
