package course

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryAttempts bounds WithRetry when callers pass a non-positive limit.
const DefaultRetryAttempts = 3

// WithRetry runs fn until it succeeds, fails with an error other than
// ErrConflict, or has been retried attempts times. The last conflict is
// returned once the retries are spent.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	op := func() error {
		err := fn()
		if err == nil || errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx))
}
