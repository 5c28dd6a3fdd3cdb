package transport

import (
	"fmt"
	"sync"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/ipc"
)

// StageMode is the metadata record's mode tag (spec §4.11/§6).
type StageMode uint32

const (
	ModeTrace   StageMode = 0
	ModeCapture StageMode = 1
	ModeTest    StageMode = 2
)

// metadataRecordSize is the on-wire size of Record: ten platform-native
// uint32 fields (spec §6).
const metadataRecordSize = 40

// Record is the fixed-layout struct exchanged over the metadata channel.
type Record struct {
	BuffCount        uint32
	BuffLen          uint32
	TotalLen         uint32
	Mode             StageMode
	TargetFnId       uint32
	TargetModId      uint32
	Forked           uint32
	ArgCount         uint32
	TestCount        uint32
	TargetCallNumber uint32
}

func (r Record) encode(dst []byte) {
	bufview.PutUint32(dst, 0, r.BuffCount)
	bufview.PutUint32(dst, 4, r.BuffLen)
	bufview.PutUint32(dst, 8, r.TotalLen)
	bufview.PutUint32(dst, 12, uint32(r.Mode))
	bufview.PutUint32(dst, 16, r.TargetFnId)
	bufview.PutUint32(dst, 20, r.TargetModId)
	bufview.PutUint32(dst, 24, r.Forked)
	bufview.PutUint32(dst, 28, r.ArgCount)
	bufview.PutUint32(dst, 32, r.TestCount)
	bufview.PutUint32(dst, 36, r.TargetCallNumber)
}

func decodeRecord(src []byte) Record {
	v := bufview.New(src)
	var r Record
	v, r.BuffCount, _ = v.ShiftUint32()
	v, r.BuffLen, _ = v.ShiftUint32()
	v, r.TotalLen, _ = v.ShiftUint32()
	var mode uint32
	v, mode, _ = v.ShiftUint32()
	r.Mode = StageMode(mode)
	v, r.TargetFnId, _ = v.ShiftUint32()
	v, r.TargetModId, _ = v.ShiftUint32()
	v, r.Forked, _ = v.ShiftUint32()
	v, r.ArgCount, _ = v.ShiftUint32()
	v, r.TestCount, _ = v.ShiftUint32()
	_, r.TargetCallNumber, _ = v.ShiftUint32()
	return r
}

// MetadataChannel is the supervisor-to-target control-record rendezvous
// (spec §4.3 "Metadata publisher", §3 "Metadata channel"). It is
// Send-safe and protects its own state with a mutex, matching the
// spec's "not Sync, caller protects with a mutex when cloned into
// tasks" note generalized to Go's shared-by-default goroutines.
type MetadataChannel struct {
	mu     sync.Mutex
	region *ipc.Shm
	ready  *ipc.Semaphore
	ack    *ipc.Semaphore
}

// NewMetadataChannel creates the fixed-name metadata region and its
// ready/ack semaphore pair (ack initialized to 1, per spec §3, so the
// first publish can proceed without a prior read).
func NewMetadataChannel() (*MetadataChannel, error) {
	region, err := ipc.CreateShm(constants.MetadataShmName, metadataRecordSize)
	if err != nil {
		return nil, fmt.Errorf("transport: create metadata region: %w", err)
	}
	ready, err := ipc.OpenExclusive(constants.MetadataReadySemName, 0)
	if err != nil {
		region.Unlink()
		region.Unmap()
		return nil, fmt.Errorf("transport: create data-ready semaphore: %w", err)
	}
	ack, err := ipc.OpenExclusive(constants.MetadataAckSemName, 1)
	if err != nil {
		ready.Unlink()
		ready.Close()
		region.Unlink()
		region.Unmap()
		return nil, fmt.Errorf("transport: create data-ack semaphore: %w", err)
	}
	return &MetadataChannel{region: region, ready: ready, ack: ack}, nil
}

// Publish waits on data-ack, writes record with an unaligned store, and
// posts data-ready.
func (c *MetadataChannel) Publish(record Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ack.Wait(); err != nil {
		return fmt.Errorf("transport: wait data-ack: %w", err)
	}

	ex, err := c.region.BorrowExclusive()
	if err != nil {
		return fmt.Errorf("transport: borrow metadata region: %w", err)
	}
	record.encode(ex.Bytes())
	ex.Release()

	if err := c.ready.Post(); err != nil {
		return fmt.Errorf("transport: post data-ready: %w", err)
	}
	return nil
}

// Receive (target side) waits on data-ready, reads the record, and
// posts data-ack. Provided for completeness of the handshake and for
// this package's tests (the real compiler instrumentation plays this
// role in production).
func (c *MetadataChannel) Receive() (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready.Wait(); err != nil {
		return Record{}, fmt.Errorf("transport: wait data-ready: %w", err)
	}

	shared, err := c.region.BorrowShared()
	if err != nil {
		return Record{}, fmt.Errorf("transport: borrow metadata region: %w", err)
	}
	record := decodeRecord(shared.Bytes())
	shared.Release()

	if err := c.ack.Post(); err != nil {
		return Record{}, fmt.Errorf("transport: post data-ack: %w", err)
	}
	return record, nil
}

// Deinit unmaps and unlinks the metadata region and destroys both semaphores.
func (c *MetadataChannel) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if err := c.ready.Unlink(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ready.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ack.Unlink(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ack.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.region.Unlink(); err != nil {
		errs = append(errs, err)
	}
	if err := c.region.Unmap(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("transport: metadata deinit: %v", errs)
}
