// Package transport composes the semaphore and shared-memory primitives
// from internal/ipc into the three things the rest of callcap talks to:
// the ring (producer/consumer buffer handoff), the metadata channel
// (supervisor-to-target control records), and the finalizer (crash
// recovery). Grounded on the teacher's internal/queue/runner.go
// producer/consumer completion-handling shape, generalized from io_uring
// completions to POSIX semaphore wait/post.
package transport

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/ipc"
	"github.com/abrandt/callcap/internal/logging"
)

// FinalizerDescriptor names the resource the crash-recovery path needs
// to re-open independently of the Ring it came from.
type FinalizerDescriptor struct {
	FullSemName string
	N           int
}

// Finalizer re-opens the `full` semaphore and posts it N times so a
// consumer blocked in WaitFull observes N zero-length buffers and
// drains cleanly even if the ring's buffers were left partially filled.
type Finalizer struct {
	desc FinalizerDescriptor
}

// NewFinalizer constructs a Finalizer from a descriptor returned by TryNewRing.
func NewFinalizer(desc FinalizerDescriptor) *Finalizer {
	return &Finalizer{desc: desc}
}

// Flush posts the full semaphore N times. Errors are aggregated and
// reported but do not stop the attempt to post the remaining times
// (spec §7: "finalizer flush errors are reported but do not block
// further cleanup").
func (f *Finalizer) Flush() error {
	sem, err := ipc.OpenExisting(f.desc.FullSemName)
	if err != nil {
		return fmt.Errorf("finalizer: open full semaphore: %w", err)
	}
	defer sem.Close()

	var firstErr error
	for i := 0; i < f.desc.N; i++ {
		if err := sem.Post(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("finalizer: post %d/%d: %w", i+1, f.desc.N, err)
		}
	}
	return firstErr
}

// Ring is the N-buffer shared-memory producer/consumer transport (spec §4.3).
type Ring struct {
	free   *ipc.Semaphore
	full   *ipc.Semaphore
	region *ipc.Shm

	prefix string
	n      int
	s      int
	index  int

	mu          sync.Mutex
	borrowedSet bool
	borrowed    ipc.SharedView
}

// TryNewRing creates a new ring of N buffers of S bytes each, named from
// prefix, with free=N and full=0. Returns the ring and a finalizer
// descriptor identifying the second handle onto `full`.
func TryNewRing(prefix string, n, s int) (*Ring, FinalizerDescriptor, error) {
	if s < constants.MinBufferSize || s%constants.BufferSizeAlign != 0 {
		return nil, FinalizerDescriptor{}, fmt.Errorf("transport: invalid buffer size %d", s)
	}

	freeName := prefix + constants.FreeSemaphoreSuffix
	fullName := prefix + constants.FullSemaphoreSuffix
	shmName := prefix + constants.RingShmSuffix

	free, err := ipc.OpenExclusive(freeName, uint32(n))
	if err != nil {
		return nil, FinalizerDescriptor{}, fmt.Errorf("transport: create free semaphore: %w", err)
	}

	full, err := ipc.OpenExclusive(fullName, 0)
	if err != nil {
		free.Unlink()
		free.Close()
		return nil, FinalizerDescriptor{}, fmt.Errorf("transport: create full semaphore: %w", err)
	}

	region, err := ipc.CreateShm(shmName, n*s)
	if err != nil {
		full.Unlink()
		full.Close()
		free.Unlink()
		free.Close()
		return nil, FinalizerDescriptor{}, fmt.Errorf("transport: create ring region: %w", err)
	}

	r := &Ring{free: free, full: full, region: region, prefix: prefix, n: n, s: s}
	logging.Default().Debug("ring created", "prefix", prefix, "buffer_count", n, "buffer_size", s)
	return r, FinalizerDescriptor{FullSemName: fullName, N: n}, nil
}

// BufferCount returns N.
func (r *Ring) BufferCount() int { return r.n }

// BufferSize returns S.
func (r *Ring) BufferSize() int { return r.s }

// WaitFull blocks on the full semaphore, then returns a read-only view
// over the current logical buffer's payload bytes (per the buffer's
// 4-byte little-endian length field). The returned view aliases shared
// memory held under an outstanding shared borrow until Release is called.
func (r *Ring) WaitFull() (bufview.View, error) {
	if err := r.full.Wait(); err != nil {
		return bufview.View{}, fmt.Errorf("transport: wait_full: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	shared, err := r.region.BorrowShared()
	if err != nil {
		return bufview.View{}, fmt.Errorf("transport: borrow ring region: %w", err)
	}

	offset := r.index * r.s
	slot := shared.Bytes()[offset : offset+r.s]
	length := binary.LittleEndian.Uint32(slot[:constants.LengthFieldSize])
	if int(length) > r.s-constants.LengthFieldSize {
		shared.Release()
		return bufview.View{}, fmt.Errorf("transport: buffer length %d exceeds slot capacity", length)
	}

	r.borrowed = shared
	r.borrowedSet = true
	payload := slot[constants.LengthFieldSize : constants.LengthFieldSize+int(length)]
	return bufview.New(payload), nil
}

// Release zeros the current buffer's length field, posts the free
// semaphore, and advances the index mod N.
func (r *Ring) Release() error {
	r.mu.Lock()
	if !r.borrowedSet {
		r.mu.Unlock()
		return fmt.Errorf("transport: release without a pending WaitFull borrow")
	}
	r.borrowed.Release()
	r.borrowedSet = false
	r.mu.Unlock()

	ex, err := r.region.BorrowExclusive()
	if err != nil {
		return fmt.Errorf("transport: borrow ring region exclusively: %w", err)
	}
	offset := r.index * r.s
	binary.LittleEndian.PutUint32(ex.Bytes()[offset:offset+constants.LengthFieldSize], 0)
	ex.Release()

	if err := r.free.Post(); err != nil {
		return fmt.Errorf("transport: post free: %w", err)
	}
	r.index = (r.index + 1) % r.n
	return nil
}

// Deinit closes and unlinks both semaphores and unmaps and unlinks the
// ring region, aggregating any errors encountered.
func (r *Ring) Deinit() error {
	var errs []error
	if err := r.full.Unlink(); err != nil {
		errs = append(errs, fmt.Errorf("unlink full: %w", err))
	}
	if err := r.full.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close full: %w", err))
	}
	if err := r.free.Unlink(); err != nil {
		errs = append(errs, fmt.Errorf("unlink free: %w", err))
	}
	if err := r.free.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close free: %w", err))
	}
	if err := r.region.Unlink(); err != nil {
		errs = append(errs, fmt.Errorf("unlink region: %w", err))
	}
	if err := r.region.Unmap(); err != nil {
		errs = append(errs, fmt.Errorf("unmap region: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("transport: deinit: %v", errs)
}
