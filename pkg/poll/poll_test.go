package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilConverges(t *testing.T) {
	tests := []struct {
		name     string
		readyAt  int // invocation that first reports done
		interval time.Duration
		timeout  time.Duration
	}{
		{name: "immediately", readyAt: 1, interval: 10 * time.Millisecond, timeout: time.Second},
		{name: "after three intervals", readyAt: 4, interval: 10 * time.Millisecond, timeout: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Until(context.Background(), func() (bool, error) {
				calls++
				return calls >= tt.readyAt, nil
			}, tt.interval, tt.timeout)

			require.NoError(t, err)
			assert.Equal(t, tt.readyAt, calls)
		})
	}
}

func TestUntilInvocationBound(t *testing.T) {
	interval := 20 * time.Millisecond
	k := 3
	start := time.Now()
	calls := 0

	err := Until(context.Background(), func() (bool, error) {
		calls++
		return time.Since(start) >= time.Duration(k)*interval, nil
	}, interval, time.Second)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls, k)
	assert.Less(t, calls, k+2)
}

func TestUntilTimeout(t *testing.T) {
	timeout := 50 * time.Millisecond
	start := time.Now()

	err := Until(context.Background(), func() (bool, error) {
		return false, nil
	}, 10*time.Millisecond, timeout)

	elapsed := time.Since(start)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, timeout, timeoutErr.Timeout)
	assert.Greater(t, timeoutErr.Attempts, 1)

	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 10*timeout)
}

func TestUntilPropagatesPredicateError(t *testing.T) {
	boom := errors.New("agent unreachable")
	calls := 0

	err := Until(context.Background(), func() (bool, error) {
		calls++
		return false, boom
	}, time.Millisecond, time.Second)

	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTimeout(err))
	assert.Equal(t, 1, calls)
}

func TestUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Until(ctx, func() (bool, error) {
		return false, nil
	}, 5*time.Millisecond, time.Minute)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTimeout(err))
}

func TestUntilValue(t *testing.T) {
	states := []string{"CREATE_IN_PROGRESS", "CREATE_IN_PROGRESS", "CREATE_COMPLETE"}
	i := 0

	got, err := UntilValue(context.Background(),
		func() (string, error) {
			s := states[i]
			if i < len(states)-1 {
				i++
			}
			return s, nil
		},
		func(s string) (bool, error) {
			if s == "CREATE_FAILED" {
				return false, errors.New("stack failed")
			}
			return s == "CREATE_COMPLETE", nil
		},
		time.Millisecond, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "CREATE_COMPLETE", got)
}

func TestUntilValueSatisfiedError(t *testing.T) {
	_, err := UntilValue(context.Background(),
		func() (string, error) { return "CREATE_FAILED", nil },
		func(s string) (bool, error) {
			return false, errors.New("stack failed")
		},
		time.Millisecond, time.Second)

	assert.EqualError(t, err, "stack failed")
}
