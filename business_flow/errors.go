// Package businessflow contains the core business logic and use cases for sequence workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Sequence-related errors
	ErrSequenceNotFound         = errors.New("sequence not found")
	ErrSequenceNotEditable      = errors.New("sequence steps can only be edited in draft or paused status")
	ErrSequenceHasNoSteps       = errors.New("sequence has no main steps")
	ErrInvalidStatusTransition  = errors.New("invalid sequence status transition")
	ErrSequenceNameRequired     = errors.New("sequence name is required")
	ErrStepIndexesNotContiguous = errors.New("main step indexes must start at 0 and be contiguous")
	ErrStepKindInvalid          = errors.New("step kind is invalid")
	ErrStepChannelInvalid       = errors.New("step channel is invalid")
	ErrConditionTypeInvalid     = errors.New("condition type is invalid")
	ErrConditionWaitRequired    = errors.New("no_reply conditions require a wait window")
	ErrFallbackRefInvalid       = errors.New("condition fallback must reference a fallback step in the same request")
	ErrConditionOnFallbackStep  = errors.New("fallback steps cannot carry conditions")

	// Enrollment-related errors
	ErrSequenceNotAcceptingEnrollments = errors.New("sequence is not accepting enrollments")
	ErrEnrollmentNotFound              = errors.New("enrollment not found")
	ErrEnrollmentNotStoppable          = errors.New("enrollment is already completed or stopped")

	// Webhook-related errors
	ErrEventTypeInvalid = errors.New("channel event type is invalid")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsSequenceNotFound(err error) bool {
	return errors.Is(err, ErrSequenceNotFound)
}

func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}
