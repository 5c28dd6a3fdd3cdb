// Package replay implements the replay test server (spec §4.10): a
// Unix-domain socket server that answers recorded-packet requests from
// spawned targets during the test stage and records each target's
// outcome. Grounded on other_examples' ezipc blab.go Listen loop
// (unlink-stale-socket, net.Listen("unix", ...), accept-then-spin-a-
// goroutine shape) and the teacher's context.Context-driven lifecycle
// (backend.go's ctx/cancel pair) for graceful shutdown.
package replay

import (
	"fmt"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/schema"
)

// Tag identifies a client request frame's kind (spec §4.10).
type Tag uint16

const (
	TagStart Tag = iota
	TagPacket
	TagTestEnd
	TagTestFinish
)

func (t Tag) String() string {
	switch t {
	case TagStart:
		return "START"
	case TagPacket:
		return "PKT"
	case TagTestEnd:
		return "TEST_END"
	case TagTestFinish:
		return "TEST_FINISH"
	default:
		return fmt.Sprintf("Tag(%d)", uint16(t))
	}
}

// StatusTag identifies the outcome reported in a TEST_END frame.
type StatusTag uint16

const (
	StatusTimeout StatusTag = iota
	StatusExit
	StatusSignal
	StatusFatal
)

// Status is a decoded TEST_END outcome.
type Status struct {
	Tag  StatusTag
	Code int32 // exit code (StatusExit) or signal number (StatusSignal)
}

// request is one decoded 16-byte client frame.
type request struct {
	tag     Tag
	payload [constants.RequestPayloadLen]byte
}

// decodeRequest parses a RequestFrameSize-byte frame (spec §4.10's
// 2-byte tag + 14-byte payload framing).
func decodeRequest(frame []byte) (request, error) {
	if len(frame) != constants.RequestFrameSize {
		return request{}, fmt.Errorf("replay: frame is %d bytes, want %d", len(frame), constants.RequestFrameSize)
	}
	view, raw, err := bufview.New(frame).ShiftUint16()
	if err != nil {
		return request{}, fmt.Errorf("replay: decode tag: %w", err)
	}
	var req request
	req.tag = Tag(raw)
	copy(req.payload[:], view.AsSlice())
	return req, nil
}

// decodeStart parses a START frame's payload: u32 moduleId ‖ u32
// functionId ‖ 6 unused.
func decodeStart(payload [constants.RequestPayloadLen]byte) (schema.FunctionUid, error) {
	view := bufview.New(payload[:])
	view, m, err := view.ShiftUint32()
	if err != nil {
		return schema.FunctionUid{}, fmt.Errorf("replay: decode start module id: %w", err)
	}
	_, f, err := view.ShiftUint32()
	if err != nil {
		return schema.FunctionUid{}, fmt.Errorf("replay: decode start function id: %w", err)
	}
	return schema.FunctionUid{Module: schema.ModuleId(m), Function: schema.FunctionId(f)}, nil
}

// decodePacketIndex parses a PKT frame's payload: u64 packet index ‖ 6
// unused.
func decodePacketIndex(payload [constants.RequestPayloadLen]byte) (uint64, error) {
	view := bufview.New(payload[:])
	_, idx, err := view.ShiftUint64()
	if err != nil {
		return 0, fmt.Errorf("replay: decode packet index: %w", err)
	}
	return idx, nil
}

// decodeTestEnd parses a TEST_END frame's payload: u64 test index ‖
// 2-byte status sub-tag ‖ u32 code-or-padding.
func decodeTestEnd(payload [constants.RequestPayloadLen]byte) (uint64, Status, error) {
	view := bufview.New(payload[:])
	view, idx, err := view.ShiftUint64()
	if err != nil {
		return 0, Status{}, fmt.Errorf("replay: decode test index: %w", err)
	}
	view, subtag, err := view.ShiftUint16()
	if err != nil {
		return 0, Status{}, fmt.Errorf("replay: decode status sub-tag: %w", err)
	}
	_, code, err := view.ShiftUint32()
	if err != nil {
		return 0, Status{}, fmt.Errorf("replay: decode status code: %w", err)
	}
	return idx, Status{Tag: StatusTag(subtag), Code: int32(code)}, nil
}

// encodeResponse frames a PKT response: a 4-byte little-endian length
// followed by payload (spec §4.10).
func encodeResponse(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	bufview.PutUint32(out, 0, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}
