package core

import (
	"time"

	"github.com/juju/clock"
)

// Clock is the time source used while polling async jobs.
// clock.WallClock satisfies it; tests substitute a fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var defaultClock Clock = clock.WallClock
