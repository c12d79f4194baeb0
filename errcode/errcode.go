// Package errcode defines the closed error taxonomy shared by every
// component of the engine.  Raw errors never cross a component boundary –
// they are classified into a Code first so that retry policies, audit events
// and API responses all agree on the failure category.
package errcode

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a canonical error category.
type Code string

const (
	RBACDenied       Code = "RBAC_DENIED"
	NotFound         Code = "NOT_FOUND"
	ValidationError  Code = "VALIDATION_ERROR"
	Conflict         Code = "CONFLICT_409"
	ExecutionError   Code = "EXECUTION_ERROR"
	IntegrationError Code = "INTEGRATION_ERROR"
	Timeout          Code = "TIMEOUT"
	AlreadyExecuted  Code = "ALREADY_EXECUTED"
	MissingInputs    Code = "MISSING_INPUTS"
	JobNotFound      Code = "JOB_NOT_FOUND"
	JobInvalidState  Code = "JOB_INVALID_STATE"
	JobMaxRetries    Code = "JOB_MAX_RETRIES"
	JobOrgMismatch   Code = "JOB_ORG_MISMATCH"
	PlaybookAdvance  Code = "PLAYBOOK_ADVANCE_FAILED"
)

// nonRetryable lists codes that will never succeed on a repeated attempt –
// bad input, missing entities and permission problems. Everything else is
// considered transient up to the job's attempt budget.
var nonRetryable = map[Code]bool{
	RBACDenied:      true,
	NotFound:        true,
	ValidationError: true,
	JobOrgMismatch:  true,
	AlreadyExecuted: true,
	MissingInputs:   true,
}

// IsRetryable reports whether a failure with the given code may be retried.
func IsRetryable(code Code) bool {
	return !nonRetryable[code]
}

// Error is the taxonomy-aware error returned at component boundaries. It
// wraps the underlying cause (if any) so errors.Is/As keep working.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a taxonomy error without an underlying cause.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code to an existing error.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return &Error{Code: code}
	}
	return &Error{Code: code, Message: err.Error(), cause: err}
}

// CodeOf extracts the taxonomy code from err, classifying best-effort when
// err is not a taxonomy error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return Classify(err)
}

// classification keywords evaluated in order; the first match wins.
var classifiers = []struct {
	keyword string
	code    Code
}{
	{"permission", RBACDenied},
	{"forbidden", RBACDenied},
	{"unauthorized", RBACDenied},
	{"not found", NotFound},
	{"no such", NotFound},
	{"validation", ValidationError},
	{"invalid", ValidationError},
	{"conflict", Conflict},
	{"already exists", Conflict},
	{"timeout", Timeout},
	{"timed out", Timeout},
	{"deadline exceeded", Timeout},
	{"connection", IntegrationError},
	{"unavailable", IntegrationError},
	{"upstream", IntegrationError},
	{"integration", IntegrationError},
	{"missing input", MissingInputs},
	{"already executed", AlreadyExecuted},
}

// Classify maps a raw error onto a taxonomy code using keyword matching.
// Unknown errors default to ExecutionError.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	message := strings.ToLower(err.Error())
	for _, c := range classifiers {
		if strings.Contains(message, c.keyword) {
			return c.code
		}
	}
	return ExecutionError
}
