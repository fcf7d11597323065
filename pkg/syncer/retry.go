package syncer

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/3leaps/blobsync/pkg/provider"
)

// RetryPolicy bounds retries of transient provider errors.
type RetryPolicy struct {
	// MaxAttempts includes the first try. Zero uses the default; one
	// disables retries.
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 200ms base delay capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// sleep is replaced in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) (int, error) {
	p = p.withDefaults()

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return attempt - 1, err
		}
		err = fn(ctx)
		if err == nil || !provider.IsTransient(err) || attempt >= p.MaxAttempts {
			return attempt, err
		}
		if sleepErr := sleep(ctx, p.Backoff(attempt)); sleepErr != nil {
			return attempt, err
		}
	}
}

// Backoff returns the delay after the given failed attempt: exponential
// from BaseDelay, capped at MaxDelay, with ±25% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, p.MaxDelay)
	jitter := time.Duration((rand.Float64()*0.5 - 0.25) * float64(d))
	return d + jitter
}
