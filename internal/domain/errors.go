package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors used across service boundaries.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
)

// Public texts that replace internal detail in client responses.
const (
	MsgServerError  = "Something went wrong"
	MsgInvalidToken = "Invalid token. Please log in again."
	MsgRecordExists = "Record already exists"
)

// AppError is a deliberately raised error whose status code is known at the
// point of failure. Operational errors carry a message that is safe to show
// to clients in every disclosure mode.
type AppError struct {
	message     string
	statusCode  int
	operational bool
	cause       error
	trace       pkgerrors.StackTrace
}

// NewAppError returns an operational error with the given client-facing message.
func NewAppError(message string, statusCode int) *AppError {
	return &AppError{
		message:     message,
		statusCode:  statusCode,
		operational: true,
		trace:       callers(),
	}
}

// WrapAppError returns an operational error that keeps err reachable through
// errors.Is and errors.As.
func WrapAppError(err error, message string, statusCode int) *AppError {
	return &AppError{
		message:     message,
		statusCode:  statusCode,
		operational: true,
		cause:       err,
		trace:       callers(),
	}
}

// NewProgrammerError returns a non-operational error. Its message is hidden
// from clients in production.
func NewProgrammerError(message string, statusCode int) *AppError {
	return &AppError{
		message:    message,
		statusCode: statusCode,
		trace:      callers(),
	}
}

func (e *AppError) Error() string {
	if e.cause != nil && e.message == "" {
		return e.cause.Error()
	}
	return e.message
}

func (e *AppError) Unwrap() error { return e.cause }

// Message returns the message given at construction, which may be empty for
// a wrapping error.
func (e *AppError) Message() string { return e.message }

// StatusCode returns the HTTP status the raiser declared.
func (e *AppError) StatusCode() int { return e.statusCode }

// Operational reports whether the message is safe to disclose.
func (e *AppError) Operational() bool { return e.operational }

// StackTrace returns the frames captured when the error was constructed.
func (e *AppError) StackTrace() pkgerrors.StackTrace { return e.trace }

// callers captures the stack of the caller of the constructor that invoked it.
func callers() pkgerrors.StackTrace {
	st, ok := pkgerrors.New("").(interface{ StackTrace() pkgerrors.StackTrace })
	if !ok {
		return nil
	}
	frames := st.StackTrace()
	if len(frames) < 2 {
		return nil
	}
	return frames[2:]
}

// PanicError is a programmer error recovered from a panicking handler.
type PanicError struct {
	Value any
	stack string
}

// NewPanicError wraps a recovered panic value together with the goroutine stack.
func NewPanicError(v any, stack []byte) *PanicError {
	return &PanicError{Value: v, stack: string(stack)}
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// RawStack returns the stack captured by runtime/debug at recovery time.
func (e *PanicError) RawStack() string { return e.stack }

// Operational is always false: a panic is a programmer error whatever value
// it carries, and errors.As stops here before reaching a panicked AppError.
func (e *PanicError) Operational() bool { return false }

// StatusCode is always 500.
func (e *PanicError) StatusCode() int { return http.StatusInternalServerError }

// Unwrap exposes a panicked error value to errors.Is and errors.As.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ValidationError is one failed validation rule.
type ValidationError struct {
	Param string `json:"param"`
	Msg   string `json:"msg"`
}

// ValidationErrors is the sequence of failed rules for one request.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Param + ": " + e.Msg
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldError is the client-facing form of a ValidationError.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the standard JSON error envelope returned to clients.
// Message is either a string or a []FieldError.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message any    `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// StatusError is the fixed value of ErrorResponse.Status.
const StatusError = "error"
