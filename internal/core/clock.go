package core

import "time"

// Clock supplies the registry's notion of "now". Session age and join
// durations are computed against it so tests can advance time without
// sleeping.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
