// Package errors defines the closed set of error codes this JIT driver can
// produce, plus a small wrapper type that keeps the sentinel code alongside
// an annotated cause for diagnostics.
package errors

import (
	cockroacherrors "github.com/cockroachdb/errors"
)

// Code is one of the closed set of error codes shared by the compile
// driver and the emitted code's runtime error paths.
type Code int

const (
	None Code = iota
	OutOfMemory
	InvalidAddress
	Timeout
	DivideByZero
	StackLow
	StackMin
	ArrayBounds
	MemoryAccess
	HeapLow
	HeapMin
	IntegerOverflow
	InvalidNative
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case OutOfMemory:
		return "out of memory"
	case InvalidAddress:
		return "invalid address"
	case Timeout:
		return "timeout"
	case DivideByZero:
		return "divide by zero"
	case StackLow:
		return "stack low"
	case StackMin:
		return "stack min"
	case ArrayBounds:
		return "array index out of bounds"
	case MemoryAccess:
		return "invalid memory access"
	case HeapLow:
		return "heap low"
	case HeapMin:
		return "heap min"
	case IntegerOverflow:
		return "integer overflow"
	case InvalidNative:
		return "invalid native"
	default:
		return "unknown error"
	}
}

// ErrorCodes lists the codes whose shared out-of-line error path is
// synthesized by the compile driver, in the fixed order the driver emits
// them. Order matters only for output determinism, not correctness.
var ErrorCodes = []Code{
	DivideByZero,
	StackLow,
	StackMin,
	ArrayBounds,
	MemoryAccess,
	HeapLow,
	HeapMin,
	IntegerOverflow,
	InvalidNative,
}

// CompileError is returned by the compile driver and the thunk patcher.
// It pairs a sentinel Code with an optionally wrapped cause, in the style
// of the teacher codebase's ProtocolError, but uses cockroachdb/errors so
// a stack trace survives the hop across the thunk-patcher boundary back
// to the host.
type CompileError struct {
	Code  Code
	Cause error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return e.Code.String() + ": " + e.Cause.Error()
	}
	return e.Code.String()
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// New creates a CompileError with no wrapped cause.
func New(code Code) *CompileError {
	return &CompileError{Code: code}
}

// Wrap annotates cause with a stack trace and pairs it with code.
func Wrap(code Code, cause error, msg string) *CompileError {
	return &CompileError{
		Code:  code,
		Cause: cockroacherrors.Wrap(cause, msg),
	}
}

// Newf builds a CompileError whose cause is a freshly annotated error
// carrying a stack trace, for sites that detect a problem without an
// existing error value to wrap.
func Newf(code Code, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Code:  code,
		Cause: cockroacherrors.Newf(format, args...),
	}
}

// CodeOf extracts the sentinel Code from err, or None if err is nil or not
// a *CompileError.
func CodeOf(err error) Code {
	if err == nil {
		return None
	}
	var ce *CompileError
	if cockroacherrors.As(err, &ce) {
		return ce.Code
	}
	return None
}
