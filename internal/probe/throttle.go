package probe

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimit caps the aggregate probe rate across all workers with a token
// bucket. It throttles the pool globally without serializing it, unlike the
// per-link delay, which forces serial execution.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether global rate limiting is active.
func (l RateLimit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

func (l RateLimit) newLimiter() *rate.Limiter {
	if !l.Enabled() {
		return nil
	}
	interval := l.Window / time.Duration(l.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	return rate.NewLimiter(rate.Every(interval), l.Requests)
}
