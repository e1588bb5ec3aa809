// Package errors defines the coded error type shared by the survey engine.
//
// Codes fall into four families: configuration errors raised by Build before
// any interview starts, transient model errors that the retrying caller may
// retry, cache errors that degrade to a miss, and cancellation.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Survey compilation errors
	ErrCodeSurveyInvalid      ErrorCode = "SURVEY_INVALID"
	ErrCodeDependencyCycle    ErrorCode = "DEPENDENCY_CYCLE"
	ErrCodeRuleInvalid        ErrorCode = "RULE_INVALID"
	ErrCodeMemoryInvalid      ErrorCode = "MEMORY_INVALID"
	ErrCodeTemplateUnresolved ErrorCode = "TEMPLATE_UNRESOLVED"
	ErrCodeTemplateRender     ErrorCode = "TEMPLATE_RENDER"

	// Model errors
	ErrCodeModelNotFound  ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeModelAPIError  ErrorCode = "MODEL_API_ERROR"
	ErrCodeModelTimeout   ErrorCode = "MODEL_TIMEOUT"
	ErrCodeModelRateLimit ErrorCode = "MODEL_RATE_LIMIT"
	ErrCodeModelMalformed ErrorCode = "MODEL_MALFORMED"

	// Cache errors
	ErrCodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"

	// Execution errors
	ErrCodeInterviewFailed ErrorCode = "INTERVIEW_FAILED"
	ErrCodeCancelled       ErrorCode = "CANCELLED"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured engine error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Stack      []Frame
	Retryable  bool
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Newf creates a new structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
	}
}

// WithContext adds context key-value pairs to the error
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

// Error implements the error interface. Context keys are sorted so the
// message is stable across runs.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Context[k]))
		}
		sb.WriteString("}")
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

// IsRetryable returns whether this error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.Function))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)
	iter := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := iter.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}

	return frames
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// IsCode checks if any error in the chain has the given code
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var coded *Error
		if !stderrors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Underlying
	}
	return false
}

// GetCode extracts the outermost error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if coded, ok := As(err); ok {
		return coded.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	coded, ok := As(err)
	if !ok {
		return false
	}
	return coded.Retryable
}

// IsConfiguration reports whether err is a configuration error raised before
// any interview starts.
func IsConfiguration(err error) bool {
	switch GetCode(err) {
	case ErrCodeConfigLoad, ErrCodeConfigParse, ErrCodeConfigInvalid,
		ErrCodeSurveyInvalid, ErrCodeDependencyCycle, ErrCodeRuleInvalid,
		ErrCodeMemoryInvalid, ErrCodeTemplateUnresolved:
		return true
	default:
		return false
	}
}
