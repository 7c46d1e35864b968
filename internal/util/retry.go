package util

import (
	"context"
	"errors"
)

// Retry calls fn up to maxTries times until it returns a nil error, and
// returns the last error if every attempt fails. maxTries below 1 means a
// single attempt.
func Retry[T any](maxTries int, fn func() (T, error)) (T, error) {
	var (
		result  T
		lastErr error
	)
	for range max(maxTries, 1) {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
	}
	var zero T
	return zero, lastErr
}

// RetryErr is Retry for functions without a result value.
func RetryErr(maxTries int, fn func() error) error {
	_, err := Retry(maxTries, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithContext is Retry with cancellation: it stops before an attempt
// once ctx is done, and does not retry attempts that failed because the
// context was cancelled or timed out.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for range max(maxTries, 1) {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithContext for functions without a result
// value.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
