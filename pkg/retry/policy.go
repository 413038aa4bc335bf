// Package retry is the single retry/backoff abstraction shared by the
// submission tool and the malformed-call repair cycle.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// Retryable classifies errors; nil treats every error as retryable.
	Retryable func(error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Exhausted reports whether n attempts used up the policy.
func (p Policy) Exhausted(n int) bool {
	return n >= p.attempts()
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. It returns the number of attempts made and the last
// error.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) (int, error) {
	attempt := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(p.attempts()-1)),
		ctx,
	)

	operation := func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return attempt, err
}
