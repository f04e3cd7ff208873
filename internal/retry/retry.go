// Package retry runs provider calls under an explicit exponential backoff
// policy.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
// The zero value makes exactly one attempt.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls op until it succeeds, returns an error retryable rejects, or the
// retry budget is spent. Permanent errors are returned unchanged. Waiting
// stops early when ctx is done.
func (p Policy) Do(ctx context.Context, name string, retryable func(error) bool, op func(context.Context) error) error {
	backoff := p.InitialBackoff

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			if p.MaxRetries == 0 {
				return err
			}
			return fmt.Errorf("%s failed after %d retries: %w", name, p.MaxRetries, err)
		}

		wait := backoff
		if p.MaxBackoff > 0 && wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled during backoff: %w: %w", name, ctx.Err(), err)
		case <-timer.C:
		}
		backoff *= 2
	}
}
