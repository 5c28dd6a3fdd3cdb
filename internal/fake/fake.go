// Package fake provides in-process substitutes for the POSIX-backed
// ring transport and metadata channel, so capture-loop code is
// unit-testable without real named semaphores or shared memory.
// Grounded on momentics-hioload-ws/fake's Transport/Buffer fakes: a
// mutex-guarded, channel-backed stand-in satisfying the same call
// shape as the real thing, with a borrow-discipline check mirroring
// internal/transport.Ring's "release without a pending borrow" guard.
package fake

import (
	"fmt"
	"sync"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/transport"
)

// Ring is a loopback stand-in for transport.Ring, satisfying
// capture.Source (WaitFull/Release) without shared memory or
// semaphores. Push enqueues a producer-side buffer; an empty slice
// behaves like a real ring's zero-length end marker.
type Ring struct {
	ch chan []byte

	mu       sync.Mutex
	borrowed bool
}

// NewRing constructs a Ring buffered to hold capacity pending pushes
// before Push blocks, mirroring a real ring's bounded slot count.
func NewRing(capacity int) *Ring {
	return &Ring{ch: make(chan []byte, capacity)}
}

// Push enqueues payload for the next WaitFull to return. Pass an empty
// slice (or nil) to enqueue an end marker.
func (r *Ring) Push(payload []byte) {
	r.ch <- payload
}

// WaitFull blocks until a payload is available, mirroring
// transport.Ring.WaitFull's blocking wait on the full semaphore.
func (r *Ring) WaitFull() (bufview.View, error) {
	payload, ok := <-r.ch
	if !ok {
		return bufview.View{}, fmt.Errorf("fake: ring closed while waiting")
	}
	r.mu.Lock()
	r.borrowed = true
	r.mu.Unlock()
	return bufview.New(payload), nil
}

// Release clears the pending borrow, erroring if WaitFull was not
// called first (same discipline as the real ring).
func (r *Ring) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.borrowed {
		return fmt.Errorf("fake: release without a pending WaitFull borrow")
	}
	r.borrowed = false
	return nil
}

// Close unblocks any pending WaitFull with an error, simulating
// transport teardown.
func (r *Ring) Close() {
	close(r.ch)
}

// MetadataChannel is a loopback stand-in for transport.MetadataChannel:
// Publish enqueues a record, Receive dequeues it, both in-process.
type MetadataChannel struct {
	ch chan transport.Record
}

// NewMetadataChannel constructs a MetadataChannel with room for one
// outstanding record, matching the real channel's single-record
// rendezvous (ack initialized to 1).
func NewMetadataChannel() *MetadataChannel {
	return &MetadataChannel{ch: make(chan transport.Record, 1)}
}

// Publish enqueues record for the next Receive.
func (c *MetadataChannel) Publish(record transport.Record) error {
	c.ch <- record
	return nil
}

// Receive blocks for the next published record.
func (c *MetadataChannel) Receive() (transport.Record, error) {
	record, ok := <-c.ch
	if !ok {
		return transport.Record{}, fmt.Errorf("fake: metadata channel closed")
	}
	return record, nil
}

// Deinit closes the channel, matching the real channel's teardown shape.
func (c *MetadataChannel) Deinit() error {
	close(c.ch)
	return nil
}
