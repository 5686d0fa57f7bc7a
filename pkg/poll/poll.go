package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every *TimeoutError
var ErrTimeout = errors.New("poll timed out")

// TimeoutError is returned when a condition did not converge within its budget
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("poll timed out after %v (%d attempts)", e.Timeout, e.Attempts)
}

// Is lets errors.Is(err, ErrTimeout) match
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout reports whether err is a poll timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Until evaluates cond until it reports done, returns an error, or the timeout
// elapses. The first evaluation is immediate and later ones are spaced by
// interval. Errors from cond are returned as is and never retried.
func Until(ctx context.Context, cond func() (bool, error), interval, timeout time.Duration) error {
	_, err := UntilValue(ctx,
		func() (struct{}, error) { return struct{}{}, nil },
		func(struct{}) (bool, error) { return cond() },
		interval, timeout)
	return err
}

// UntilValue is the two-step form of Until: produce loads the latest value and
// satisfied decides whether it is final. The last produced value is returned,
// including on timeout.
func UntilValue[T any](
	ctx context.Context,
	produce func() (T, error),
	satisfied func(T) (bool, error),
	interval, timeout time.Duration,
) (T, error) {
	deadline := time.Now().Add(timeout)
	attempts := 0

	for {
		attempts++
		value, err := produce()
		if err != nil {
			return value, err
		}
		done, err := satisfied(value)
		if err != nil {
			return value, err
		}
		if done {
			return value, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return value, &TimeoutError{Timeout: timeout, Attempts: attempts}
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}
