package resilience

import (
	"math/rand/v2"
	"time"
)

// Retry describes how many times and how far apart a call is attempted.
type Retry struct {
	Attempts int
	Base     time.Duration
	// Max caps a single delay. Zero means uncapped.
	Max time.Duration
	// Jitter is a fraction of the delay, 0.2 spreads by plus or minus 20%.
	Jitter float64
}

func (r Retry) attempts() int {
	if r.Attempts <= 0 {
		return 1
	}
	return r.Attempts
}

// Delay returns the wait before the attempt following attempt n (1-based).
func (r Retry) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := r.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << min(n-1, 16)
	if r.Max > 0 && d > r.Max {
		d = r.Max
	}
	if r.Jitter <= 0 {
		return d
	}
	spread := float64(d) * r.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
