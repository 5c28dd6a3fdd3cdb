package schema

import (
	"errors"
	"fmt"
)

// schemaError is a small local error type so this package does not
// depend on the root callcap package's Error/ErrorCode (which would
// create an import cycle: root wraps these with operation context and
// also depends on internal/orchestrator, which depends on this
// package). Root's errors.WithContext recognizes these by category and
// maps them to the matching ErrorCode.
type schemaError struct {
	op       string
	category string
	msg      string
}

func (e *schemaError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.op, e.msg)
}

func newConfigError(op, msg string) error {
	return &schemaError{op: op, category: "config", msg: msg}
}

func newNotFoundError(op, msg string) error {
	return &schemaError{op: op, category: "not_found", msg: msg}
}

func newProtocolError(op, msg string) error {
	return &schemaError{op: op, category: "protocol", msg: msg}
}

// NewNotFoundError constructs a not-found error for callers outside
// this package (e.g. internal/tracer, which must report an unknown
// module id with the same categorization as this package's own
// lookup misses — spec.md's call-tracing stage names NotFound for
// that case).
func NewNotFoundError(op, msg string) error {
	return newNotFoundError(op, msg)
}

// NewProtocolError constructs a protocol error for callers outside
// this package (e.g. internal/argcapture, whose unknown module/function
// ids categorize as ProtocolError rather than NotFound — spec.md
// distinguishes the two stages explicitly).
func NewProtocolError(op, msg string) error {
	return newProtocolError(op, msg)
}

// IsConfigError reports whether err, or any error it wraps, originated
// as a config-validation failure.
func IsConfigError(err error) bool {
	var e *schemaError
	return errors.As(err, &e) && e.category == "config"
}

// IsNotFound reports whether err, or any error it wraps, originated as
// a lookup miss.
func IsNotFound(err error) bool {
	var e *schemaError
	return errors.As(err, &e) && e.category == "not_found"
}

// IsProtocolError reports whether err, or any error it wraps,
// originated as a wire-format violation.
func IsProtocolError(err error) bool {
	var e *schemaError
	return errors.As(err, &e) && e.category == "protocol"
}
