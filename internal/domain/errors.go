package domain

import (
	"errors"
	"fmt"
)

// Store-level sentinel conditions.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrConflict            = errors.New("state conflict")
)

// ErrorCode identifies a pipeline failure class.
type ErrorCode string

const (
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeBadRequest           ErrorCode = "BAD_REQUEST"
	CodeInvalidFile          ErrorCode = "INVALID_FILE"
	CodeInsufficientCredits  ErrorCode = "INSUFFICIENT_CREDITS"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeAlreadyProcessing    ErrorCode = "ALREADY_PROCESSING"
	CodeAlreadyTerminal      ErrorCode = "ALREADY_TERMINAL"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeUpstreamTimeout      ErrorCode = "UPSTREAM_TIMEOUT"
	CodeUpstreamServiceError ErrorCode = "UPSTREAM_SERVICE_ERROR"
	CodeNetworkError         ErrorCode = "NETWORK_ERROR"
	CodeStorageError         ErrorCode = "STORAGE_ERROR"
	CodeInternal             ErrorCode = "INTERNAL"
)

// Error carries a taxonomy code through the pipeline layers.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Message == ""
	}
	return false
}

// NewError builds a coded error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Errorf builds a coded error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code of err. Unclassified errors are INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	}
	return CodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
