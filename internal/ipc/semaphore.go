// Package ipc wraps the two POSIX primitives the ring transport is built
// from: named semaphores (this file) and named shared memory (shm.go).
//
// Both primitives are split into a real, cgo-backed implementation
// (semaphore_cgo.go, shm is pure golang.org/x/sys/unix) and — mirroring
// the teacher's internal/uring real/stub split, selected by build tag —
// an in-process semaphore stub (semaphore_stub.go), compiled when cgo is
// disabled or the target OS is not Linux.
package ipc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/abrandt/callcap/internal/logging"
)

// backendHandle carries whatever opaque state the active backend
// (cgo POSIX or in-process stub) needs to identify a live semaphore.
// Kept as a single pointer-sized type so semaphore.go does not need a
// build-tag-specific declaration of its own.
type backendHandle struct {
	ptr unsafe.Pointer
}

// SemaphoreState is one of the two observable states a Semaphore value
// can be in (spec §4.1).
type SemaphoreState int

const (
	// SemOpen holds the live handle and the semaphore's name.
	SemOpen SemaphoreState = iota
	// SemClosed retains only the name; wait/post fail with InvalidState.
	SemClosed
)

func (s SemaphoreState) String() string {
	if s == SemOpen {
		return "open"
	}
	return "closed"
}

// Semaphore is a named POSIX counting semaphore with a two-state
// lifecycle: Open (usable) and Closed (name-only, inert).
type Semaphore struct {
	name    string // pinned with a trailing NUL for direct syscall use
	state   SemaphoreState
	handle  backendHandle
}

// pinName appends the trailing NUL byte the wrapper keeps around for
// direct use against the underlying syscall interface.
func pinName(name string) string {
	return name + "\x00"
}

// OpenExclusive creates a new named semaphore with O_CREAT|O_EXCL
// semantics and the given initial count.
func OpenExclusive(name string, initial uint32) (*Semaphore, error) {
	pinned := pinName(name)
	h, err := semOpenExclusive(pinned, initial)
	if err != nil {
		return nil, err
	}
	logging.Default().Debug("semaphore opened", "name", name, "initial", initial)
	return &Semaphore{name: pinned, state: SemOpen, handle: h}, nil
}

// OpenExisting attaches to an already-created named semaphore, used by
// the finalizer descriptor to obtain a second independent handle to the
// `full` semaphore and by --cleanup to reach leaked resources.
func OpenExisting(name string) (*Semaphore, error) {
	pinned := pinName(name)
	h, err := semOpenExisting(pinned)
	if err != nil {
		return nil, err
	}
	logging.Default().Debug("semaphore reopened", "name", name)
	return &Semaphore{name: pinned, state: SemOpen, handle: h}, nil
}

// Name returns the semaphore's name, without the trailing NUL.
func (s *Semaphore) Name() string {
	if len(s.name) > 0 && s.name[len(s.name)-1] == 0 {
		return s.name[:len(s.name)-1]
	}
	return s.name
}

// State reports whether the handle is still Open or has been Closed.
func (s *Semaphore) State() SemaphoreState { return s.state }

// Wait blocks the calling goroutine until the semaphore's count is
// positive, then decrements it. Fails with InvalidState on a Closed
// semaphore.
func (s *Semaphore) Wait() error {
	if s.state != SemOpen {
		return invalidStateErr("wait", s.Name())
	}
	return semWait(s.handle)
}

// Post increments the semaphore's count, waking one waiter if any are
// blocked in Wait. Fails with InvalidState on a Closed semaphore.
func (s *Semaphore) Post() error {
	if s.state != SemOpen {
		return invalidStateErr("post", s.Name())
	}
	return semPost(s.handle)
}

// Close releases the underlying handle and transitions to Closed. On
// success the receiver's state becomes Closed; on failure the state is
// left Open and the OS error is returned so callers can retry cleanup.
func (s *Semaphore) Close() error {
	if s.state != SemOpen {
		return nil
	}
	if err := semCloseHandle(s.handle); err != nil {
		return err
	}
	s.state = SemClosed
	s.handle = backendHandle{}
	return nil
}

// Unlink removes the semaphore's name from the kernel namespace. Valid
// in either state, since only the name is required.
func (s *Semaphore) Unlink() error {
	return semUnlinkName(s.name)
}

func invalidStateErr(op, name string) error {
	return &stateError{op: op, name: name}
}

// stateError is a small local error type so this package does not
// import the root callcap package (which would create an import cycle);
// the root package's errors.go recognizes it via errors.As in
// transport/finalizer wrapping.
type stateError struct {
	op   string
	name string
}

func (e *stateError) Error() string {
	return fmt.Sprintf("ipc: %s on closed semaphore %q", e.op, e.name)
}

// IsInvalidState reports whether err, or any error it wraps, originated
// from an operation on a Closed semaphore.
func IsInvalidState(err error) bool {
	var e *stateError
	return errors.As(err, &e)
}
