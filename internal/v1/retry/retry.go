// Package retry wraps github.com/cenkalti/backoff/v5 with the exponential
// backoff policy every external call in this service uses (broker publish,
// persistence reads, token revalidation — spec.md's "every external call
// has an explicit deadline; no unbounded waits").
//
// The library already sits in this module's dependency graph
// (github.com/cenkalti/backoff/v5, pulled in indirectly by
// RoseWrightdev-Video-Conferencing's go.mod); this package promotes it to a
// direct, exercised dependency instead of leaving it unused.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures a retry sequence.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxTries   uint
}

// DefaultPolicy mirrors spec.md's default retry knobs
// (retry.base_delay_ms, retry.max_delay_ms, retry.max_attempts).
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		MaxTries:  5,
	}
}

// Do runs fn under the policy's exponential backoff, retrying on any
// non-nil error except when fn returns a *backoff.PermanentError, which
// aborts immediately. ctx bounds the entire retry sequence, satisfying the
// "no unbounded waits" invariant.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay

	return backoff.Retry(ctx, func() (T, error) {
		return fn(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxTries))
}

// Permanent marks err as non-retryable, causing Do to return immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
