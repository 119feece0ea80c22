package completion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"
)

// Retry defaults for completion calls.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 10 * time.Second
	DefaultJitter     = time.Second
	DefaultTimeout    = 30 * time.Second
)

// Retrier runs an operation with a per-attempt timeout and exponential backoff.
// It makes at most MaxRetries+1 attempts.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     time.Duration
	Timeout    time.Duration
	Logger     *log.Logger

	metrics *clientMetrics
}

// NewRetrier returns a Retrier with the default budget.
func NewRetrier(logger *log.Logger) *Retrier {
	if logger == nil {
		logger = log.Default()
	}
	return &Retrier{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     DefaultJitter,
		Timeout:    DefaultTimeout,
		Logger:     logger,
		metrics:    globalClientMetrics(),
	}
}

// Do runs op until it succeeds, fails permanently or the budget is spent.
// Exhaustion returns an *ExhaustedError.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := r.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.attempt(ctx, op)
		if err == nil {
			r.metrics.recordAttempt("ok")
			return nil
		}
		last = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		if !Retryable(ctx, err) {
			r.metrics.recordAttempt("permanent")
			return unwrapPermanent(err)
		}
		r.metrics.recordAttempt("retryable")

		if attempt == attempts-1 {
			break
		}
		delay := r.Delay(attempt)
		r.logf("completion: attempt %d/%d failed: %v (retrying in %s)", attempt+1, attempts, err, delay.Round(time.Millisecond))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logf("completion: giving up after %d attempts: %v", attempts, last)
	return &ExhaustedError{Attempts: attempts, Last: last}
}

// DoWithFallback is Do, but a missing key or an exhausted budget runs
// fallback instead of failing. fallback receives the original error.
func (r *Retrier) DoWithFallback(ctx context.Context, op func(ctx context.Context) error, fallback func(cause error) error) error {
	err := r.Do(ctx, op)
	if err == nil || fallback == nil {
		return err
	}
	if errors.Is(err, ErrRetriesExhausted) || errors.Is(err, ErrNotConfigured) {
		r.logf("completion: using fallback: %v", err)
		return fallback(err)
	}
	return err
}

// attempt races op against the per-attempt timeout.
func (r *Retrier) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.Timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, r.Timeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrAttemptTimeout, r.Timeout)
	}
}

// Delay is the backoff before the retry that follows attempt (zero based).
func (r *Retrier) Delay(attempt int) time.Duration {
	delay := r.BaseDelay
	for i := 0; i < attempt && delay < r.MaxDelay; i++ {
		delay *= 2
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	if r.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(r.Jitter)))
	}
	return delay
}

// Retryable classifies err. Missing configuration, permanent errors and
// cancellation of the caller's context are final; everything else retries.
func Retryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	var perm *permanentError
	switch {
	case errors.As(err, &perm):
		return false
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrNoContent):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func unwrapPermanent(err error) error {
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}

func (r *Retrier) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

type retryingCompleter struct {
	next    Completer
	retrier *Retrier
}

// WithRetry wraps c so every Complete call goes through r.
func WithRetry(c Completer, r *Retrier) Completer {
	if r == nil {
		return c
	}
	return &retryingCompleter{next: c, retrier: r}
}

func (rc *retryingCompleter) Complete(ctx context.Context, req Request) (string, error) {
	var (
		mu  sync.Mutex
		out string
	)
	err := rc.retrier.Do(ctx, func(attemptCtx context.Context) error {
		text, err := rc.next.Complete(attemptCtx, req)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		// an abandoned attempt must not overwrite a later result
		if attemptCtx.Err() != nil {
			return attemptCtx.Err()
		}
		out = text
		return nil
	})
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		return "", err
	}
	return out, nil
}
