package util

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Sentinels for the authorization error taxonomy. DomainErrors built by the
// constructors below unwrap to these so callers can use errors.Is.
var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrTransientBackend     = errors.New("transient backend error")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidActor         = errors.New("invalid actor")
	ErrPolicyDenied         = errors.New("policy denied")
	ErrReadOnly             = errors.New("service temporarily read-only")
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConfigurationMissing reports a required backing store that was never configured.
func NewConfigurationMissing(component string) error {
	return &DomainError{
		Code:       "CONFIGURATION_MISSING",
		Message:    "service misconfigured",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"component": component},
		Err:        fmt.Errorf("%s: %w", component, ErrConfigurationMissing),
	}
}

// NewTransientBackend wraps a timeout or connection failure. The evaluation
// is unknown, not denied.
func NewTransientBackend(component string, cause error) error {
	return &DomainError{
		Code:       "TRANSIENT_BACKEND",
		Message:    "temporarily unable to evaluate access",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        fmt.Errorf("%s: %w: %v", component, ErrTransientBackend, cause),
	}
}

func NewInvalidState(message string, details map[string]any) error {
	return &DomainError{
		Code:       "INVALID_STATE",
		Message:    message,
		HTTPStatus: http.StatusConflict,
		Details:    details,
		Err:        ErrInvalidState,
	}
}

func NewInvalidActor(message string, details map[string]any) error {
	return &DomainError{
		Code:       "INVALID_ACTOR",
		Message:    message,
		HTTPStatus: http.StatusForbidden,
		Details:    details,
		Err:        ErrInvalidActor,
	}
}

// NewPolicyDenied is the caller-facing denial. Reasons stay in server logs.
func NewPolicyDenied() error {
	return &DomainError{
		Code:       "POLICY_DENIED",
		Message:    "access denied",
		HTTPStatus: http.StatusForbidden,
		Err:        ErrPolicyDenied,
	}
}

// NewReadOnly signals a mutation blocked by read-only mode.
func NewReadOnly(message string) error {
	if message == "" {
		message = "service temporarily read-only"
	}
	return &DomainError{
		Code:       "READ_ONLY_MODE",
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        ErrReadOnly,
	}
}

// IsTransient reports whether err is a timeout, cancellation or backend
// connectivity failure rather than a definitive answer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientBackend) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNoRows reports whether err means "no matching row" from pgx or database/sql.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if IsNoRows(err) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
