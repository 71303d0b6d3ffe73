package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindTargeting      Kind = "targeting"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindGatewaySend    Kind = "gateway_send"
	KindReconciliation Kind = "reconciliation"
)

// Error is an application error carrying its Kind.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the kind onto an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindTargeting:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindGatewaySend:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...), nil)
}

func Targeting(format string, args ...any) *Error {
	return New(KindTargeting, fmt.Sprintf(format, args...), nil)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...), nil)
}

func Reconciliation(message string, err error) *Error {
	return New(KindReconciliation, message, err)
}

// ErrAlreadyRunning is returned when a RUNNING campaign is launched again.
var ErrAlreadyRunning = Conflict("campaign is already running")

// ErrNoRecipients is returned when targeting resolves zero contacts.
var ErrNoRecipients = Targeting("no recipients match the campaign targeting")

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an application error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
