// backoff.go implements the retry policy for transient proving faults:
// exponential backoff with jitter, driven through an injectable clock so
// tests never sleep.
package driver

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig controls retries of failed compositions.
type RetryConfig struct {
	// MaxRetries is how many times a composition is re-attempted after the
	// first failure.
	MaxRetries int

	// InitialDelay and MaxDelay bound the backoff window.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Factor is the exponential growth factor between attempts.
	Factor float64
}

// DefaultRetryConfig mirrors a proving service that recovers from transient
// faults within a few slots.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
	}
}

// delay returns the backoff before the given retry attempt (1-based), with
// up to 25% random jitter.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.Factor
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	d += d * 0.25 * rand.Float64()
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// wait sleeps for the attempt's backoff, aborting early when the context is
// done.
func (c RetryConfig) wait(ctx context.Context, clock clockwork.Clock, attempt int) error {
	select {
	case <-clock.After(c.delay(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
