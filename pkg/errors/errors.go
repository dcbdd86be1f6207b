package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones of a predefined
// error still match it with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid nim or password")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTooManyRequests    = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment errors. Every precondition of the add/drop workflow has its own code.
var (
	ErrNoActivePeriod       = New("NO_ACTIVE_PERIOD", http.StatusForbidden, "there is no active academic period")
	ErrEnrollmentClosed     = New("ENROLLMENT_CLOSED", http.StatusForbidden, "the KRS registration schedule is not open")
	ErrStudentNotFound      = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found")
	ErrSectionNotFound      = New("SECTION_NOT_FOUND", http.StatusNotFound, "class section not found")
	ErrNotEligible          = New("NOT_ELIGIBLE", http.StatusForbidden, "student is not eligible to fill KRS")
	ErrAlreadyRegistered    = New("ALREADY_REGISTERED", http.StatusConflict, "already registered in this class section")
	ErrSectionFull          = New("SECTION_FULL", http.StatusConflict, "class section is full")
	ErrCreditLimitExceeded  = New("CREDIT_LIMIT_EXCEEDED", http.StatusConflict, "credit limit exceeded")
	ErrScheduleConflict     = New("SCHEDULE_CONFLICT", http.StatusConflict, "schedule conflicts with a registered class")
	ErrRegistrationNotFound = New("REGISTRATION_NOT_FOUND", http.StatusNotFound, "no KRS found for the active period")
	ErrLineNotFound         = New("LINE_NOT_FOUND", http.StatusNotFound, "class section is not in your KRS")
	ErrConcurrencyConflict  = New("CONCURRENCY_CONFLICT", http.StatusServiceUnavailable, "registration is busy, please retry")
	ErrLockUnavailable      = New("LOCK_UNAVAILABLE", http.StatusServiceUnavailable, "class section is busy, please retry")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the provided details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

// IsTransient reports whether err may be retried by the caller without
// observable partial effects.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrLockUnavailable)
}
