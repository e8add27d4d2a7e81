package model

import (
	"errors"
	"fmt"
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the Weaver API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewConflictError creates a CONFLICT APIError.
func NewConflictError(msg string) *APIError {
	return &APIError{Code: ErrConflict, Message: msg}
}

// Not-found kinds. Wrap them with fmt.Errorf("%w") to add the identifier.
var (
	ErrProcessNotFound = errors.New("process not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrPackageNotFound = errors.New("package not found")
)

// IsNotFound reports whether err wraps one of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProcessNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrPackageNotFound)
}

// PackageTypeError is returned when I/O definitions cannot be reconciled
// between the CWL, WPS and OGC API representations.
type PackageTypeError struct {
	IO     string
	Reason string
}

func (e *PackageTypeError) Error() string {
	if e.IO == "" {
		return "package type error: " + e.Reason
	}
	return fmt.Sprintf("package type error for %q: %s", e.IO, e.Reason)
}

// RemoteError carries an unexpected response from a remote provider.
type RemoteError struct {
	Operation  string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote %s %s: HTTP %d", e.Operation, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("remote %s %s: HTTP %d: %s", e.Operation, e.URL, e.StatusCode, e.Body)
}

// ResolutionError is returned when a data source or catalog query cannot
// produce what the execution needs.
type ResolutionError struct {
	Message string
	Err     error // optional cause, such as ErrServiceNotFound
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return "resolution error: " + e.Message + ": " + e.Err.Error()
	}
	return "resolution error: " + e.Message
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
