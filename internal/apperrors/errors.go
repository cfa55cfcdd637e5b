package apperrors

import (
	"errors"
	"fmt"
)

// AppError is the error type returned by the service layer.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any *AppError carrying the same code, so sentinel values such as
// ErrSelfConnection work with errors.Is.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && (other.Message == "" || other.Message == e.Message)
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidOperation(msg string) error {
	return New(CodeInvalidOperation, msg)
}

func InvalidState(msg string) error {
	return New(CodeInvalidState, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func PermissionDenied(msg string) error {
	return New(CodePermissionDenied, msg)
}

// StoreFailure wraps an error returned by the backing store.
func StoreFailure(op string, cause error) error {
	return Wrap(CodeStoreFailure, op, cause)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Kind is a code-only sentinel for errors.Is checks, e.g.
// errors.Is(err, apperrors.Kind(apperrors.CodeInvalidState)).
func Kind(code Code) error {
	return &AppError{Code: code}
}

// PublicMessage is the message of the first AppError in err's chain,
// without its cause. Other errors yield a generic message.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal error"
}
