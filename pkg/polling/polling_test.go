package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitTimesOutAfterExactBudget(t *testing.T) {
	attempts := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		attempts++
		return "pending", nil
	}

	v, err := Wait(context.Background(), Options{Interval: time.Millisecond, MaxAttempts: 2}, fetch, func(interface{}) bool {
		return false
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "pending", v)
}

func TestWaitReturnsOnceReady(t *testing.T) {
	attempts := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		attempts++
		return attempts, nil
	}

	v, err := Wait(context.Background(), Options{Interval: time.Millisecond, MaxAttempts: 10}, fetch, func(v interface{}) bool {
		return v.(int) >= 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, attempts)
}

func TestWaitStopsOnPermanentError(t *testing.T) {
	authErr := errors.New("forbidden")
	attempts := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, Permanent(authErr)
	}

	_, err := Wait(context.Background(), Options{Interval: time.Millisecond, MaxAttempts: 5}, fetch, func(interface{}) bool {
		return true
	})
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, attempts)
}

func TestWaitRetriesTransientErrors(t *testing.T) {
	attempts := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return "ready", nil
	}

	v, err := Wait(context.Background(), Options{Interval: time.Millisecond, MaxAttempts: 5}, fetch, func(v interface{}) bool {
		return v == "ready"
	})
	require.NoError(t, err)
	assert.Equal(t, "ready", v)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(ctx context.Context) (interface{}, error) {
		cancel()
		return "pending", nil
	}

	_, err := Wait(ctx, Options{Interval: time.Minute, MaxAttempts: 3}, fetch, func(interface{}) bool {
		return false
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitZeroBudget(t *testing.T) {
	_, err := Wait(context.Background(), Options{}, func(ctx context.Context) (interface{}, error) {
		t.Fatal("fetch should not run with no budget")
		return nil, nil
	}, func(interface{}) bool { return true })
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.Nil(t, Permanent(nil))
}
