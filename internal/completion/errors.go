package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no API key (or endpoint) is available.
	ErrNotConfigured = errors.New("completion: api key not configured")
	// ErrNoContent means the response carried no recognisable text.
	ErrNoContent = errors.New("completion: no content in response")
	// ErrRetriesExhausted is wrapped by ExhaustedError.
	ErrRetriesExhausted = errors.New("completion: retries exhausted")
	// ErrAttemptTimeout marks an attempt that outlived the per-attempt timeout.
	ErrAttemptTimeout = errors.New("completion: attempt timed out")
)

// ProviderError is returned when the completion API responds with an error.
type ProviderError struct {
	// StatusCode is the HTTP status code, zero for errors embedded in a 200 body.
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("completion: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("completion: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true if the error is a rate limit response (HTTP 429).
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429
}

// ExhaustedError reports the attempt count and the final failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (err *ExhaustedError) Error() string {
	return fmt.Sprintf("completion: failed after %d attempts: %v", err.Attempts, err.Last)
}

// Unwrap exposes both the sentinel and the last attempt's error.
func (err *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, err.Last}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
