package funnels

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidName    = errors.New("invalid funnel name")
	ErrDuplicateName  = errors.New("funnel name already exists")
	ErrInvalidStatus  = errors.New("invalid funnel status")
	ErrStepValidation = errors.New("step validation failed")
	ErrNoChanges      = errors.New("no data to update")
)

// ValidationError reports bad registry input. Kind is one of the Err* sentinels
// above, so callers can use errors.Is for the specific reason.
type ValidationError struct {
	Kind    error
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Code is a stable machine-readable identifier for API responses.
func (e *ValidationError) Code() string {
	switch e.Kind {
	case ErrInvalidName:
		return "INVALID_NAME"
	case ErrDuplicateName:
		return "DUPLICATE_NAME"
	case ErrInvalidStatus:
		return "INVALID_STATUS"
	case ErrStepValidation:
		return "STEP_VALIDATION_FAILED"
	case ErrNoChanges:
		return "NO_DATA"
	default:
		return "VALIDATION_ERROR"
	}
}

func newValidationError(kind error, field, message string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: message}
}

func newStepError(position int, message string) *ValidationError {
	return newValidationError(ErrStepValidation, fmt.Sprintf("steps[%d]", position), message)
}

// FunnelNotFoundError represents an error when a funnel does not exist
type FunnelNotFoundError struct {
	ID uint
}

func (e *FunnelNotFoundError) Error() string {
	return fmt.Sprintf("funnel not found: %d", e.ID)
}

// NewFunnelNotFoundError creates a new FunnelNotFoundError
func NewFunnelNotFoundError(id uint) *FunnelNotFoundError {
	return &FunnelNotFoundError{ID: id}
}

// IsNotFound reports whether err is (or wraps) a FunnelNotFoundError.
func IsNotFound(err error) bool {
	var nf *FunnelNotFoundError
	return errors.As(err, &nf)
}
