package errors

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling. One per §7 error kind plus the
// lookup/config failures the orchestrator and its collaborators raise.
const (
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeAgentNotFound      = "AGENT_NOT_FOUND"
	CodeCheckpointNotFound = "CHECKPOINT_NOT_FOUND"
	CodeTimeout            = "TIMEOUT"
	CodeCyclicDependency   = "CYCLIC_DEPENDENCY"
	CodeConflict           = "CONFLICT"

	CodeModelFatal    = "MODEL_FATAL"
	CodeSchemaInvalid = "SCHEMA_INVALID"
	CodeStorageFatal  = "STORAGE_FATAL"
	CodeDiffInvalid   = "DIFF_INVALID"
	CodeMergeConflict = "MERGE_CONFLICT"
	CodeMaxAttempts   = "MAX_ATTEMPTS"
	CodeCancelled     = "CANCELLED"
)

// OrchError is a structured error with a code and actionable suggestion.
type OrchError struct {
	Code       string // machine-readable code (e.g. MODEL_FATAL)
	Message    string // human-readable description
	Suggestion string // actionable fix
	Err        error  // wrapped underlying error
}

// Error implements the error interface.
func (e *OrchError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is / errors.As.
func (e *OrchError) Unwrap() error {
	return e.Err
}

// New creates an OrchError with the given code and message.
func New(code, message string) *OrchError {
	return &OrchError{Code: code, Message: message}
}

// Wrap creates an OrchError wrapping an existing error.
func Wrap(code, message string, err error) *OrchError {
	return &OrchError{Code: code, Message: message, Err: err}
}

// WithSuggestion returns the same error with the suggestion set.
func (e *OrchError) WithSuggestion(suggestion string) *OrchError {
	e.Suggestion = suggestion
	return e
}

// Is checks whether target matches this error's code.
func (e *OrchError) Is(target error) bool {
	var oe *OrchError
	if errors.As(target, &oe) {
		return e.Code == oe.Code
	}
	return false
}

// AsCode extracts the OrchError code from an error, or "" if not an OrchError.
func AsCode(err error) string {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// Suggestion extracts the suggestion from an error, or "" if not an OrchError.
func Suggestion(err error) string {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Suggestion
	}
	return ""
}

// IsFatal reports whether code is one of the classes §7 says should skip
// retry: storage-fatal, model-fatal (after the Agent Runner's own retries
// are exhausted), or a user cancellation.
func IsFatal(code string) bool {
	switch code {
	case CodeStorageFatal, CodeModelFatal, CodeCancelled:
		return true
	default:
		return false
	}
}
