package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrInvalidInput  = errors.New("invalid step input")
	ErrResetDenied   = errors.New("reset denied")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// InvalidInputError describes which part of a StepInput was rejected.
// Index is -1 when the whole vector is at fault.
type InvalidInputError struct {
	Field  string
	Index  int
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid step input: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid step input: %s[%d]: %s", e.Field, e.Index, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ResetDeniedError carries the policy reason for a refused reset.
type ResetDeniedError struct {
	Reason string
}

func (e *ResetDeniedError) Error() string {
	return fmt.Sprintf("reset denied: %s", e.Reason)
}

func (e *ResetDeniedError) Is(target error) bool {
	return target == ErrResetDenied
}

// ErrorResponse defines the JSON error model returned by the admin API.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., INVALID_INPUT, RESET_DENIED)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
