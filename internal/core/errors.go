package core

import (
	"fmt"
	"strings"
)

// ValidationError reports a command that does not match the grammar.
// Reason is for logs only and is never posted back to the chat.
type ValidationError struct {
	Reason string
	Err    error
}

func NewValidationError(reason string, err error) *ValidationError {
	return &ValidationError{Reason: reason, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Reason, e.Err)
	}
	return "validation: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SubmissionError reports a ledger call that did not end in 200 or 201.
// StatusCode is zero for transport failures, in which case Err is set.
type SubmissionError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("submission: transport: %v", e.Err)
	case e.Detail != "":
		return fmt.Sprintf("submission: status %d: %s", e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("submission: status %d", e.StatusCode)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfigurationError aggregates every problem found while validating configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n- %s", strings.Join(e.Problems, "\n- "))
}
