package retry

import "errors"

// transientError marks a failure that has a realistic chance of succeeding
// on another attempt: timeouts, connection resets, 5xx responses.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err as retryable. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries a transient mark anywhere in its
// chain.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// clientError marks a failure caused by the request itself (4xx class).
// These normally fail identically on every attempt and are only retried when
// the executor is configured for it.
type clientError struct{ err error }

func (e *clientError) Error() string { return e.err.Error() }
func (e *clientError) Unwrap() error { return e.err }

// MarkClient wraps err as a request-side failure. A nil err stays nil.
func MarkClient(err error) error {
	if err == nil {
		return nil
	}
	return &clientError{err: err}
}

// IsClient reports whether err carries a client-side mark anywhere in its
// chain.
func IsClient(err error) bool {
	var ce *clientError
	return errors.As(err, &ce)
}
