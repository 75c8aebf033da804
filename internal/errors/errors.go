// Package errors consolidates error definitions for the metron engine.
//
// This file provides:
// - Boundary error codes
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode and CodeName mapping for the boundary
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Boundary error codes - the transport layer maps these to status codes
// ============================================================================

const (
	CodeUnknown         int32 = 1
	CodeNotFound        int32 = 2
	CodeConflict        int32 = 3
	CodeInvalidArgument int32 = 4
	CodeTimeout         int32 = 5
	CodeInternal        int32 = 6
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeNotFound:
		return "NotFound"
	case CodeConflict:
		return "Conflict"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeTimeout:
		return "Timeout"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound       = errors.New("not found")
	ErrMetricNotFound = errors.New("metric not found")

	// Conflict errors
	ErrConflict   = errors.New("conflict")
	ErrKindChange = errors.New("metric already registered with a different kind")

	// Validation errors
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidTagKey    = errors.New("invalid tag key")
	ErrInvalidDuration  = errors.New("window duration must be positive")
	ErrInvalidRange     = errors.New("time range end before start")
	ErrInvalidKind      = errors.New("unknown metric kind")
	ErrInvalidOperation = errors.New("unknown operation")
	ErrInvalidVariant   = errors.New("unknown expression variant")
	ErrGroupMismatch    = errors.New("mismatched group labels")
	ErrMissingField     = errors.New("missing required field")

	// Timeout errors
	ErrTimeout = errors.New("query timeout")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrStorage  = errors.New("storage error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMetricNotFound)
}

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrKindChange)
}

// IsInvalidArgument returns true if err is a validation error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidTagKey) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidVariant) ||
		errors.Is(err, ErrGroupMismatch) ||
		errors.Is(err, ErrMissingField)
}

// IsTimeout returns true if err is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// ============================================================================
// Error to boundary code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its boundary code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsConflict(err):
		return CodeConflict
	case IsInvalidArgument(err):
		return CodeInvalidArgument
	case IsTimeout(err):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMetricNotFound creates a metric not-found error.
func NewMetricNotFound(name string) error {
	return fmt.Errorf("metric '%s': %w", name, ErrMetricNotFound)
}

// NewKindConflict creates a kind-conflict error for re-registration.
func NewKindConflict(name, existing, requested string) error {
	return fmt.Errorf("metric '%s' is %s, requested %s: %w", name, existing, requested, ErrKindChange)
}

// NewInvalidArgument creates a validation error with context.
func NewInvalidArgument(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidArgument)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidArgument)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewInvalidArgument(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
