package ghauth

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy describes how an outbound call is attempted. It is kept apart
// from the calls themselves so it can be exercised with injected faults.
type RetryPolicy struct {
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	// Retryable decides whether a failed attempt is worth repeating.
	// Nil means IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy gives each call a 10 second budget and one retry after
// a one second pause when the failure was a timeout or a refused connection.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    2,
		Backoff:        time.Second,
		AttemptTimeout: 10 * time.Second,
		Retryable:      IsTransient,
	}
}

// IsTransient reports whether err is a timeout or a refused connection.
// Cancellation of the caller's own context is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// retryCall runs fn under policy p. Each attempt gets its own timeout
// derived from ctx, so the caller's deadline still bounds the whole call.
func retryCall[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	op := func() (T, error) {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		res, err := fn(actx)
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(uint(attempts)),
	)
	return res, unwrapPermanent(err)
}

// unwrapPermanent keeps the backoff wrapper out of errors returned to callers.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
