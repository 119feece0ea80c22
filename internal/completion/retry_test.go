package completion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrier() *Retrier {
	return &Retrier{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
		Timeout:    20 * time.Millisecond,
	}
}

func TestRetrierTimeoutsExhaustBudget(t *testing.T) {
	r := fastRetrier()
	var calls atomic.Int32

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, int32(4), calls.Load())
}

func TestRetrierTimeoutIgnoredByOperation(t *testing.T) {
	r := fastRetrier()
	r.MaxRetries = 0
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := r.Do(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	r := fastRetrier()
	var calls int
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &ProviderError{StatusCode: 503, Message: "busy"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierPermanentErrors(t *testing.T) {
	r := fastRetrier()

	var calls int
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ErrNotConfigured
	})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)

	calls = 0
	boom := errors.New("bad payload")
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(boom)
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierParentCancellation(t *testing.T) {
	r := fastRetrier()
	r.BaseDelay = time.Hour
	r.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("network down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetrierFallback(t *testing.T) {
	r := fastRetrier()
	var result string

	err := r.DoWithFallback(context.Background(), func(ctx context.Context) error {
		return errors.New("connection reset")
	}, func(cause error) error {
		assert.ErrorIs(t, cause, ErrRetriesExhausted)
		result = "simulated"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "simulated", result)

	err = r.DoWithFallback(context.Background(), func(ctx context.Context) error {
		return ErrNotConfigured
	}, func(cause error) error {
		result = "missing key"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "missing key", result)
}

func TestRetrierDelay(t *testing.T) {
	r := &Retrier{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, r.Delay(0))
	assert.Equal(t, 2*time.Second, r.Delay(1))
	assert.Equal(t, 4*time.Second, r.Delay(2))
	assert.Equal(t, 8*time.Second, r.Delay(3))
	assert.Equal(t, 10*time.Second, r.Delay(4))
	assert.Equal(t, 10*time.Second, r.Delay(20))

	r.Jitter = time.Second
	for i := 0; i < 50; i++ {
		d := r.Delay(0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
}

func TestNewRetrierDefaults(t *testing.T) {
	r := NewRetrier(nil)
	assert.Equal(t, 3, r.MaxRetries)
	assert.Equal(t, 30*time.Second, r.Timeout)
	assert.Equal(t, time.Second, r.BaseDelay)
	assert.Equal(t, 10*time.Second, r.MaxDelay)
}

type stubCompleter struct {
	calls int
	fn    func(ctx context.Context, call int) (string, error)
}

func (s *stubCompleter) Complete(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.fn(ctx, s.calls)
}

func TestWithRetry(t *testing.T) {
	stub := &stubCompleter{fn: func(ctx context.Context, call int) (string, error) {
		if call == 1 {
			return "", &ProviderError{StatusCode: 500, Message: "oops"}
		}
		return "done", nil
	}}
	c := WithRetry(stub, fastRetrier())
	text, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, 2, stub.calls)

	assert.Same(t, Completer(stub), WithRetry(stub, nil))
}
