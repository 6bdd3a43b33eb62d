// Package ratelimit throttles inbound signaling frames per connection.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Limiter admits up to perSecond events per second with a burst of the same
// size. It is safe for concurrent use.
type Limiter struct {
	clock Clock
	lim   *rate.Limiter
}

// NewLimiter returns a limiter that starts full. perSecond <= 0 disables
// limiting.
func NewLimiter(clock Clock, perSecond int) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	if perSecond <= 0 {
		return &Limiter{clock: clock, lim: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{
		clock: clock,
		lim:   rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	return l.lim.AllowN(l.clock.Now(), 1)
}
