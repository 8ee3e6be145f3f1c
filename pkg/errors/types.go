package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Graph errors
	ErrCodeGraphInvalid  ErrorCode = "GRAPH_INVALID"
	ErrCodeNodeFailed    ErrorCode = "NODE_FAILED"
	ErrCodeStepCeiling   ErrorCode = "STEP_CEILING"
	ErrCodeUnknownRoute  ErrorCode = "UNKNOWN_ROUTE"
	ErrCodeNodeDuplicate ErrorCode = "NODE_DUPLICATE"

	// Validation / retry errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	// Pipeline errors
	ErrCodeMissingPrerequisite ErrorCode = "MISSING_PREREQUISITE"
	ErrCodeArtifactMissing     ErrorCode = "ARTIFACT_MISSING"
	ErrCodeExportFailed        ErrorCode = "EXPORT_FAILED"

	// Store errors
	ErrCodeStoreRead    ErrorCode = "STORE_READ"
	ErrCodeStoreWrite   ErrorCode = "STORE_WRITE"
	ErrCodeStoreCorrupt ErrorCode = "STORE_CORRUPT"

	// Model errors
	ErrCodeModelTimeout      ErrorCode = "MODEL_TIMEOUT"
	ErrCodeModelAuth         ErrorCode = "MODEL_AUTH"
	ErrCodeModelRateLimit    ErrorCode = "MODEL_RATE_LIMIT"
	ErrCodeModelContextLimit ErrorCode = "MODEL_CONTEXT_LIMIT"
	ErrCodeModelAPIError     ErrorCode = "MODEL_API_ERROR"

	// Checkpoint errors
	ErrCodeCheckpointRead    ErrorCode = "CHECKPOINT_READ"
	ErrCodeCheckpointWrite   ErrorCode = "CHECKPOINT_WRITE"
	ErrCodeCheckpointMissing ErrorCode = "CHECKPOINT_MISSING"

	// Tool errors
	ErrCodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	ErrCodeToolExecution ErrorCode = "TOOL_EXECUTION"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured deckhand error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Retryable   bool
	UserMessage string
	Details     []string
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with deckhand error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds a context key-value pair to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the human-friendly message surfaced to users.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithDetails appends detail lines, e.g. the accumulated validation errors
// that led to retry exhaustion.
func (e *Error) WithDetails(details ...string) *Error {
	if len(details) == 0 {
		return e
	}
	e.Details = append(e.Details, details...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if len(e.Details) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Details, "; "))
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var dErr *Error
	if !stderrors.As(err, &dErr) {
		return false
	}
	return dErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var dErr *Error
	if !stderrors.As(err, &dErr) {
		return ErrCodeInternal
	}
	return dErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var dErr *Error
	if !stderrors.As(err, &dErr) {
		return false
	}
	return dErr.Retryable
}
