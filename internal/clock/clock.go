package clock

import "time"

// Clock is the source of "now" for every future versus present decision
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system time, in UTC
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}
