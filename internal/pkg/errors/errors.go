// Package errors provides coded errors for the lipsync service.
// An Error carries a Code (mapped to an HTTP status), the failing Op, optional
// fields and the stack at creation.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code categorizes an error for API clients and for the HTTP status mapping.
type Code string

const (
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeTimeout        Code = "TIMEOUT"
	CodeUnavailable    Code = "UNAVAILABLE"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeResultNotFound Code = "RESULT_NOT_FOUND"
)

var statusByCode = map[Code]int{
	CodeValidation:     http.StatusBadRequest,
	CodeNotFound:       http.StatusNotFound,
	CodeResultNotFound: http.StatusNotFound,
	CodeRateLimited:    http.StatusTooManyRequests,
	CodeUnavailable:    http.StatusServiceUnavailable,
	CodeTimeout:        http.StatusGatewayTimeout,
}

// Error is the error type shared by the API, the worker and the orchestrator.
type Error struct {
	Code    Code
	Message string
	// Op names the failing step, e.g. "processor.launch".
	Op     string
	Err    error
	Fields map[string]any
	Stack  []Frame
}

// Frame is one captured stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	head := e.Message
	if e.Code != "" {
		head = "[" + string(e.Code) + "] " + head
	}
	parts = append(parts, head)
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithField attaches a context field that is logged and returned as an error detail.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus maps the code to a response status; unknown codes are 500.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// StackTrace formats the captured stack, one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(2)}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// Wrap adds an operation and message to err.
// A wrapped *Error keeps its code and fields; anything else becomes CodeInternal.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Code: CodeInternal, Message: message, Op: op, Err: err, Stack: captureStack(2)}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Code = inner.Code
		wrapped.Fields = inner.Fields
	}
	return wrapped
}

// WrapWithCode wraps err under an explicit code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

// NotFound reports a missing resource such as a run.
func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// ValidationField reports an invalid form field.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

// ResultNotFound reports that a run produced no downloadable video.
func ResultNotFound(runID string) *Error {
	return New(CodeResultNotFound, "result video not available").WithField("run_id", runID)
}

// GetCode returns the code of the first *Error in the chain, or CodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

// captureStack records up to ten non-runtime frames above the caller.
func captureStack(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, 10)
	it := runtime.CallersFrames(pcs[:n])
	for len(frames) < 10 {
		frame, more := it.Next()
		if !strings.Contains(frame.File, "runtime/") {
			frames = append(frames, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		}
		if !more {
			break
		}
	}
	return frames
}

func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
