package qerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown            Code = "unknown"
	CodeBackendUnavailable Code = "backend_unavailable"
	CodeTimeout            Code = "timeout"
	CodeNonZeroExit        Code = "non_zero_exit"
	CodeTransport          Code = "transport"
	CodeCancelled          Code = "cancelled"
)

// Error is a simple value type that carries a Code plus the underlying error.
// Hint is an optional remediation message shown to the user.
type Error struct {
	Code Code
	Hint string
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.err != nil {
		b.WriteString(": ")
		b.WriteString(e.err.Error())
	}
	if e.Hint != "" {
		b.WriteString(" (")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// WithHint is New plus a remediation hint.
func WithHint(code Code, err error, hint string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Hint: hint, err: err}
}

// Errorf builds a coded error from a format string.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode helps callers compare codes without type assertions.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// HintOf returns the first hint found in the chain.
func HintOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Hint != "" {
			return e.Hint
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// ExitError reports a process that ran to completion but exited non-zero.
// It is always wrapped with CodeNonZeroExit.
type ExitError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("process exited with code %d", e.ExitCode)
	if s := lastLines(e.Stderr, 5); s != "" {
		msg += ": " + s
	}
	return msg
}

// NonZeroExit wraps an ExitError in a CodeNonZeroExit error.
func NonZeroExit(code int, stdout, stderr string) error {
	return New(CodeNonZeroExit, &ExitError{ExitCode: code, Stdout: stdout, Stderr: stderr})
}

// AsExit extracts the ExitError from err, if any.
func AsExit(err error) (*ExitError, bool) {
	var e *ExitError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}
