package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for library and tree operations. Callers match them with errors.Is.
var (
	ErrNotFound                 = errors.New("not found")
	ErrZeroCodes                = errors.New("component has no codes")
	ErrArchivedComponent        = errors.New("component is archived")
	ErrNotAtomic                = errors.New("component is not atomic")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrInvalidOperator          = errors.New("invalid logical operator")
	ErrMalformedTree            = errors.New("malformed criteria tree")
	ErrBatchRejected            = errors.New("batch rejected")
	ErrInsufficientMergeSources = errors.New("merge requires at least two valid atomic sources")
	ErrUnknownEditMode          = errors.New("unknown edit mode")
)

// OperationError is the error body returned at the HTTP and MCP boundaries.
type OperationError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeDatabaseError  = "DATABASE_ERROR"
	CodeTerminology    = "TERMINOLOGY_ERROR"
	CodeCompilation    = "COMPILATION_ERROR"
	CodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeInternalServer = "INTERNAL_SERVER_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewOperationError creates a new OperationError with timestamp
func NewOperationError(code, message, details, requestID string) *OperationError {
	return &OperationError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// CodeFor maps an error onto the boundary error code.
func CodeFor(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrZeroCodes),
		errors.Is(err, ErrArchivedComponent),
		errors.Is(err, ErrNotAtomic),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrBatchRejected),
		errors.Is(err, ErrInsufficientMergeSources):
		return CodeConflict
	case errors.Is(err, ErrInvalidOperator),
		errors.Is(err, ErrMalformedTree),
		errors.Is(err, ErrUnknownEditMode):
		return CodeInvalidInput
	default:
		return CodeInternalServer
	}
}
