package util

import "time"

// Clock abstracts time so settlement calls can capture one authoritative
// instant and tests can pin it.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// FixedClock always reports the same instant. Tests use it to make pricing
// and time-window checks deterministic.
type FixedClock struct {
	T time.Time
}

func (f FixedClock) Now() time.Time { return f.T }

func (f FixedClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.T.Add(d)
	return ch
}
