// Package backoff implements the per-error-kind fixed retry policy of
// spec §7 as a thin layer over github.com/avast/retry-go/v4, rather than
// a hand-rolled exponential-backoff loop.
package backoff

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/Sakurayuki-A/stardriver/internal/errclass"
)

// Do runs fn up to maxAttempts times (maxAttempts = maxRetries+1, spec §4.6
// "for attempt in 0..max_retries"), delaying between attempts by the
// classification table in spec §7. fn's returned error should be
// classifiable by errclass.Classify; a non-retryable kind (Forbidden,
// ManifestParseError, Cancelled) stops retrying immediately.
//
// Do returns the last error seen, or nil on success.
func Do(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	err := retry.Do(
		func() error {
			a := attempt
			attempt++
			return fn(a)
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errclass.Classify(ctx, err).Retryable()
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return errclass.Classify(ctx, err).Backoff()
		}),
	)
	return err
}
