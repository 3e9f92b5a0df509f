// Package retry applies one retry and timeout policy to collaborator calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds one collaborator call. Timeout applies to each attempt.
// Backoff[i] is the pause after attempt i+1; the last entry repeats.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Timeout     time.Duration
}

// Default is three attempts, 30s each, with a short doubling pause.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		Timeout:     30 * time.Second,
	}
}

// Once is a single attempt with the given timeout.
func Once(timeout time.Duration) Policy {
	return Policy{MaxAttempts: 1, Timeout: timeout}
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

func (p Policy) pause(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

// Do runs fn until it succeeds, returns a permanent error, ctx ends, or the
// attempts run out. Each attempt gets its own timeout-bound context.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
			case <-time.After(p.pause(attempt - 1)):
			}
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("call timed out after %s: %w", p.Timeout, err)
	}
	return err
}
