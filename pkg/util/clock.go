package util

import "time"

// Clock stamps orders and trades
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant, for reproducible runs
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }
