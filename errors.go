package callcap

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/abrandt/callcap/internal/ipc"
	"github.com/abrandt/callcap/internal/schema"
)

// Error is a structured callcap error with operation context and an
// optional wrapped OS error.
type Error struct {
	Op    string    // operation context, e.g. "deinit_tracing", "export_tracing_selection"
	Code  ErrorCode // high-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Errno != 0 {
		msg = fmt.Sprintf("%s (errno=%d)", msg, e.Errno)
	}
	if e.Op != "" {
		return fmt.Sprintf("callcap: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("callcap: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the high-level error category named in spec §7.
type ErrorCode string

const (
	// CodeSystemError wraps a failed OS primitive: semaphore, shared
	// memory, socket, or file operation.
	CodeSystemError ErrorCode = "system error"
	// CodeProtocolError marks a wire-format violation: misaligned
	// length, cross-buffer partial state at end-of-stream, unknown id,
	// oversize read.
	CodeProtocolError ErrorCode = "protocol error"
	// CodeConfigError marks an invalid module map or CLI parameter.
	CodeConfigError ErrorCode = "config error"
	// CodeNotFound marks a module or function id absent from the map.
	CodeNotFound ErrorCode = "not found"
	// CodeBorrowConflict marks a shared-memory borrow discipline
	// violation (exclusive requested while a shared borrow is live).
	CodeBorrowConflict ErrorCode = "borrow conflict"
	// CodeInvalidState marks an operation attempted on a Closed
	// semaphore or an Ended replay client session.
	CodeInvalidState ErrorCode = "invalid state"
	// CodeIoError marks local filesystem I/O failure (dumper, reader,
	// export, import).
	CodeIoError ErrorCode = "io error"
)

// NewError creates a structured error with the given operation context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a structured error carrying an OS errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// WithContext re-wraps err, prefixing it with an operation name the way
// non-leaf callers in this codebase propagate errors up the call stack
// (spec §7's "attach operation context" propagation policy).
func WithContext(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return &Error{Op: op, Code: ce.Code, Errno: ce.Errno, Msg: ce.Msg, Inner: ce.Inner}
	}
	if ipc.IsInvalidState(err) {
		return &Error{Op: op, Code: CodeInvalidState, Msg: err.Error(), Inner: err}
	}
	if ipc.IsBorrowConflict(err) {
		return &Error{Op: op, Code: CodeBorrowConflict, Msg: err.Error(), Inner: err}
	}
	if schema.IsConfigError(err) {
		return &Error{Op: op, Code: CodeConfigError, Msg: err.Error(), Inner: err}
	}
	if schema.IsNotFound(err) {
		return &Error{Op: op, Code: CodeNotFound, Msg: err.Error(), Inner: err}
	}
	if schema.IsProtocolError(err) {
		return &Error{Op: op, Code: CodeProtocolError, Msg: err.Error(), Inner: err}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: err}
	}
	return &Error{Op: op, Code: CodeSystemError, Msg: err.Error(), Inner: err}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return CodeConfigError
	case syscall.EEXIST, syscall.EACCES, syscall.EPERM:
		return CodeSystemError
	default:
		return CodeSystemError
	}
}

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
