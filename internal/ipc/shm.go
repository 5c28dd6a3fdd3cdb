package ipc

import (
	"errors"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/abrandt/callcap/internal/logging"
)

// shmDir is where POSIX shm_open-equivalent objects live on Linux; this
// repo opens that path directly with unix.Open rather than binding
// shm_open itself, since the two are equivalent on this platform and it
// keeps the shared-memory path free of the cgo the semaphore wrapper
// needs for sem_open.
const shmDir = "/dev/shm/"

// Shm owns a kernel shared-memory object, its anonymous mapping, and a
// dynamically enforced exclusive-xor-shared borrow discipline.
type Shm struct {
	name string
	fd   int
	size int

	mu           sync.Mutex
	data         []byte
	sharedCount  int
	exclusiveOut bool
	unmapped     bool
}

// CreateShm creates a new named shared-memory region of the given size
// (shm_open O_CREAT|O_EXCL -> ftruncate -> mmap). Any step failing
// triggers a best-effort unlink before returning.
func CreateShm(name string, size int) (*Shm, error) {
	path := shmDir + name
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, err
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, err
	}

	logging.Default().Debug("shm created", "name", name, "size", size)
	return &Shm{name: name, fd: fd, size: size, data: data}, nil
}

// Len returns the region's size in bytes.
func (s *Shm) Len() int { return s.size }

// Name returns the region's name.
func (s *Shm) Name() string { return s.name }

// BorrowShared acquires a read-only view. Multiple shared borrows may
// be outstanding at once.
func (s *Shm) BorrowShared() (SharedView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unmapped {
		return SharedView{}, syscall.EINVAL
	}
	if s.exclusiveOut {
		return SharedView{}, errBorrowConflict
	}
	s.sharedCount++
	return SharedView{owner: s, data: s.data}, nil
}

// BorrowExclusive acquires a read-write view. Fails with BorrowConflict
// if any shared view is outstanding, or another exclusive view is live.
func (s *Shm) BorrowExclusive() (ExclusiveView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unmapped {
		return ExclusiveView{}, syscall.EINVAL
	}
	if s.sharedCount > 0 || s.exclusiveOut {
		return ExclusiveView{}, errBorrowConflict
	}
	s.exclusiveOut = true
	return ExclusiveView{owner: s, data: s.data}, nil
}

func (s *Shm) releaseShared() {
	s.mu.Lock()
	s.sharedCount--
	s.mu.Unlock()
}

func (s *Shm) releaseExclusive() {
	s.mu.Lock()
	s.exclusiveOut = false
	s.mu.Unlock()
}

// Unmap consumes the region, unmapping its memory. On failure, the
// caller cannot reach the mapping again through this handle regardless
// (the OS error is returned but nothing is leaked for the caller to
// still touch).
func (s *Shm) Unmap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unmapped {
		return nil
	}
	err := unix.Munmap(s.data)
	s.unmapped = true
	s.data = nil
	unix.Close(s.fd)
	return err
}

// Unlink removes the shared-memory object's name from the kernel namespace.
func (s *Shm) Unlink() error {
	return unix.Unlink(shmDir + s.name)
}

// OpenShm opens an already-created shared-memory region by name
// (non-exclusive). The finalizer reopens only the full semaphore and
// --cleanup uses UnlinkShm, so neither calls it.
func OpenShm(name string, size int) (*Shm, error) {
	path := shmDir + name
	fd, err := unix.Open(path, unix.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Shm{name: name, fd: fd, size: size, data: data}, nil
}

// UnlinkShm removes a named shared-memory object's kernel name without
// mapping it, used by --cleanup where the region's size (needed to
// mmap) is not known to the caller.
func UnlinkShm(name string) error {
	return unix.Unlink(shmDir + name)
}

// errBorrowConflict is a local sentinel that the root callcap package's
// error wrapping recognizes through IsBorrowConflict and re-codes as
// BorrowConflict; kept local here to avoid an import cycle with the
// root package.
var errBorrowConflict = &borrowConflictError{}

type borrowConflictError struct{}

func (*borrowConflictError) Error() string { return "shared-memory borrow conflict" }

// IsBorrowConflict reports whether err, or any error it wraps, is the
// borrow-conflict sentinel.
func IsBorrowConflict(err error) bool {
	var e *borrowConflictError
	return errors.As(err, &e)
}

// SharedView is a read-only borrow of a Shm region's bytes.
type SharedView struct {
	owner *Shm
	data  []byte
}

// Bytes returns the borrowed read-only slice.
func (v SharedView) Bytes() []byte { return v.data }

// Release returns the borrow to its owner.
func (v SharedView) Release() {
	if v.owner != nil {
		v.owner.releaseShared()
	}
}

// ExclusiveView is a read-write borrow of a Shm region's bytes.
type ExclusiveView struct {
	owner *Shm
	data  []byte
}

// Bytes returns the borrowed read-write slice.
func (v ExclusiveView) Bytes() []byte { return v.data }

// Release returns the borrow to its owner.
func (v ExclusiveView) Release() {
	if v.owner != nil {
		v.owner.releaseExclusive()
	}
}
