package queue

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds automatic retries of transient push failures.
type Policy struct {
	// MaxAttempts is the retry ceiling: the attempt that reaches it fails
	// the entry.
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	// JitterPercent spreads retries of many entries failing together.
	JitterPercent uint64
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BackoffMin: 2 * time.Second, BackoffMax: 5 * time.Minute, JitterPercent: 20}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffMin <= 0 {
		p.BackoffMin = d.BackoffMin
	}
	if p.BackoffMax < p.BackoffMin {
		p.BackoffMax = p.BackoffMin
	}
	return p
}

// Delay returns the wait before the next try after attempt failures:
// exponential from BackoffMin, jittered, capped at BackoffMax.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	p = p.withDefaults()
	b := retry.NewExponential(p.BackoffMin)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	b = retry.WithCappedDuration(p.BackoffMax, b)

	var d time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}
