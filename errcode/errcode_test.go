package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		description string
		err         error
		expected    Code
	}{
		{"permission keyword", errors.New("permission denied for org"), RBACDenied},
		{"not found keyword", errors.New("proposal not found"), NotFound},
		{"validation keyword", errors.New("validation failed: title"), ValidationError},
		{"invalid keyword", errors.New("invalid payload shape"), ValidationError},
		{"timeout keyword", errors.New("request timed out"), Timeout},
		{"context deadline", errors.New("context deadline exceeded"), Timeout},
		{"connection keyword", errors.New("connection refused"), IntegrationError},
		{"unknown defaults to execution", errors.New("boom"), ExecutionError},
		{"nil error", nil, Code("")},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Classify(tc.err), tc.description)
	}
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []Code{RBACDenied, NotFound, ValidationError, JobOrgMismatch, AlreadyExecuted, MissingInputs} {
		assert.False(t, IsRetryable(code), string(code))
	}
	for _, code := range []Code{Conflict, ExecutionError, IntegrationError, Timeout, JobInvalidState, JobMaxRetries, PlaybookAdvance} {
		assert.True(t, IsRetryable(code), string(code))
	}
}

func TestCodeOf(t *testing.T) {
	cause := errors.New("upstream refused")
	err := Wrap(IntegrationError, cause)
	assert.Equal(t, IntegrationError, CodeOf(err))
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("executing decision: %w", New(Conflict, "approval already recorded"))
	assert.Equal(t, Conflict, CodeOf(wrapped))

	assert.Equal(t, ExecutionError, CodeOf(errors.New("kaput")))
}
