// Package retry runs an operation until it succeeds, fails permanently, or
// runs out of attempts.
//
// Webhook delivery uses exponential backoff; receipt polling uses a fixed
// interval by setting MaxDelay equal to BaseDelay.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes how often and how long to retry.
type Policy struct {
	Attempts  int           // total calls, at least 1
	BaseDelay time.Duration // wait before the second call
	MaxDelay  time.Duration // backoff ceiling; zero means uncapped
	Jitter    bool          // spread each wait by ±25%
}

// Backoff returns a jittered exponential policy.
func Backoff(attempts int, base time.Duration) Policy {
	return Policy{Attempts: attempts, BaseDelay: base, MaxDelay: 30 * base, Jitter: true}
}

// Fixed returns a policy that waits the same interval between calls.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{Attempts: attempts, BaseDelay: interval, MaxDelay: interval}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls fn until it returns nil, a permanent error, or the attempts are
// used up. fn receives the zero-based attempt number. When ctx is
// cancelled during a wait, ctx.Err() is returned.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := range attempts {
		if err = fn(attempt); err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if attempt == attempts-1 {
			break
		}

		t := time.NewTimer(p.wait(delay))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

func (p Policy) wait(d time.Duration) time.Duration {
	if !p.Jitter || d <= 0 {
		return d
	}
	spread := int64(d / 2)
	return d - d/4 + time.Duration(rand.Int64N(spread+1))
}
