package inventory

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound is returned by a HostStore when no document matches a hostname.
	ErrNotFound = errors.New("host not found")
	// ErrMissingHostname rejects records that have no merge key.
	ErrMissingHostname = errors.New("host record has no hostname")
	// ErrMalformedRecord marks a channel message that is not a JSON object.
	ErrMalformedRecord = errors.New("malformed raw record")
)

// ErrorKind separates failures worth retrying from failures that end a poll loop.
type ErrorKind string

// Error kinds reported by page fetchers.
const (
	KindRetryable ErrorKind = "retryable"
	KindFatal     ErrorKind = "fatal"
)

// FetchError is the classified outcome of a failed page fetch.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a retryable fetch error.
func Retryable(err error, statusCode int) error {
	return &FetchError{Kind: KindRetryable, StatusCode: statusCode, Err: err}
}

// Fatal wraps err as a fatal fetch error.
func Fatal(err error, statusCode int) error {
	return &FetchError{Kind: KindFatal, StatusCode: statusCode, Err: err}
}

// KindOf classifies err. Context cancellation and unclassified errors are
// fatal; network timeouts are retryable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindRetryable
	}
	return KindFatal
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}
