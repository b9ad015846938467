// Package backoff implements bounded exponential backoff with full jitter
// for transient infrastructure failures.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds a retry sequence. The delay before attempt n is drawn
// uniformly from [0, min(Max, Base<<n)].
type Policy struct {
	// Base is the cap of the first delay.
	Base time.Duration
	// Max caps every delay regardless of attempt count.
	Max time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
}

// Default is the policy used by components when none is configured.
var Default = Policy{Base: 50 * time.Millisecond, Max: 2 * time.Second, Attempts: 5}

// Delay returns the randomized delay before retry n (0-based).
func (p Policy) Delay(n int) time.Duration {
	cap := p.Base
	for i := 0; i < n && cap < p.Max; i++ {
		cap *= 2
	}
	if cap > p.Max {
		cap = p.Max
	}
	if cap <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(cap) + 1))
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. A nil retryable treats every error as
// retryable. Sleeps between attempts honor ctx cancellation.
func (p Policy) Retry(ctx context.Context, fn func() error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for n := 0; n < attempts; n++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if n == attempts-1 {
			break
		}
		if serr := Sleep(ctx, p.Delay(n)); serr != nil {
			return serr
		}
	}
	return err
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
