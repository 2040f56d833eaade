package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a send failure worth retrying on a later cycle:
// provider timeouts, rate limits, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient channel error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a send failure that will not succeed on retry:
// invalid recipient, rejected content, unsupported channel for the lead.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent channel error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient classifies an adapter error. Context deadline overruns and
// network timeouts count as transient even when not wrapped explicitly;
// anything not marked permanent defaults to transient so that an
// unclassified provider hiccup is retried rather than burning a step.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return true
}

// IsPermanent reports whether the error is classified non-retryable
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	return errors.As(err, &perm)
}

// classifyHTTPStatus maps provider HTTP status codes onto the taxonomy
func classifyHTTPStatus(status int, err error) error {
	switch {
	case status == 429:
		return Transient(err)
	case status >= 500:
		return Transient(err)
	case status >= 400:
		return Permanent(err)
	default:
		return Transient(err)
	}
}
