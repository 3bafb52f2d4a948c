package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed requests or missing required fields.
	ErrValidation = errors.New("registry: validation failed")

	// ErrNotFound is returned for absent URNs and for URNs the caller may not see.
	ErrNotFound = errors.New("registry: not found")

	// ErrSecurityViolation signals a contract mismatch such as a view rooted at another type.
	ErrSecurityViolation = errors.New("registry: security violation")

	// ErrConflict is returned when a commit is blocked or the store rejects it.
	ErrConflict = errors.New("registry: conflict")

	// ErrStartupValidation is returned when the rule store is invalid. Fatal.
	ErrStartupValidation = errors.New("registry: startup validation failed")
)

// Error wraps a sentinel with context and, for conflicts, the impact report that
// blocked the commit.
type Error struct {
	Err     error
	Message string
	Report  any
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewError(err error, message string) *Error {
	return &Error{Err: err, Message: message}
}

// WithReport attaches structured data describing why the operation failed.
func (e *Error) WithReport(report any) *Error {
	e.Report = report
	return e
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func Validationf(format string, args ...any) error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(what string) error {
	return NewError(ErrNotFound, what)
}

func SecurityViolationf(format string, args ...any) error {
	return NewError(ErrSecurityViolation, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return NewError(ErrConflict, fmt.Sprintf(format, args...))
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsSecurityViolation(err error) bool { return errors.Is(err, ErrSecurityViolation) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
func IsStartupValidation(err error) bool { return errors.Is(err, ErrStartupValidation) }

// ReportOf extracts the report attached to a wrapped *Error, if any.
func ReportOf(err error) (any, bool) {
	var e *Error
	if errors.As(err, &e) && e.Report != nil {
		return e.Report, true
	}
	return nil, false
}
