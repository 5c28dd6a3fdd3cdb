// Package tracer implements the call-tracing parser (spec §4.6): a
// capture.Parser that decodes a repeating (ModuleId, FunctionId)
// stream and accumulates a call-frequency table. Grounded on the
// teacher's internal/queue/runner.go completion-decoding style
// (binary.LittleEndian pair reads) applied to a 2-field wire record.
package tracer

import (
	"fmt"
	"sort"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/capture"
	"github.com/abrandt/callcap/internal/schema"
)

// State is the call-tracing parser's state: an optional pending
// ModuleId spanning a buffer boundary, the FunctionUids read within
// the current buffer awaiting commit at Finalize, the running
// frequency table, and the end-marker counter (spec §4.5/§4.6).
type State struct {
	pendingModule schema.ModuleId
	hasPending    bool
	pendingReads  []schema.FunctionUid
	freq          map[schema.FunctionUid]uint64
	endCount      int
}

// Parser implements capture.Parser[State].
type Parser struct{}

var _ capture.Parser[State] = Parser{}

// Default returns an empty parser state with a fresh frequency table.
func (Parser) Default() State {
	return State{freq: make(map[schema.FunctionUid]uint64)}
}

// Update reads one 4-byte little-endian ModuleId or FunctionId,
// depending on the parser's continuation state. A complete
// (ModuleId, FunctionId) pair is validated against the module map —
// an unknown ModuleId is fatal (spec §4.6); an unknown FunctionId is
// not, and is recorded for the orchestrator to report after the loop.
func (Parser) Update(state State, view bufview.View, mm *schema.ModuleMap) (State, bufview.View, error) {
	if !state.hasPending {
		next, raw, err := view.ShiftUint32()
		if err != nil {
			return state, view, fmt.Errorf("tracer: read module id: %w", err)
		}
		state.pendingModule = schema.ModuleId(raw)
		state.hasPending = true
		return state, next, nil
	}

	next, raw, err := view.ShiftUint32()
	if err != nil {
		return state, view, fmt.Errorf("tracer: read function id: %w", err)
	}
	if !mm.HasModule(state.pendingModule) {
		return state, next, schema.NewNotFoundError("tracer_update", fmt.Sprintf("unknown module %s", state.pendingModule))
	}
	uid := schema.FunctionUid{Module: state.pendingModule, Function: schema.FunctionId(raw)}
	state.pendingReads = append(state.pendingReads, uid)
	state.hasPending = false
	return state, next, nil
}

// Finalize commits every FunctionUid read in the buffer just released
// into the frequency table (spec §4.6: "after finalize, bump a
// frequency map").
func (Parser) Finalize(state State) (State, error) {
	for _, uid := range state.pendingReads {
		state.freq[uid]++
	}
	state.pendingReads = nil
	return state, nil
}

// IsEmpty reports whether no (ModuleId, FunctionId) pair is in flight.
func (Parser) IsEmpty(state State) bool { return !state.hasPending }

// EndMarkerCount reads the state's end-marker counter.
func (Parser) EndMarkerCount(state State) int { return state.endCount }

// BumpEndMarkerCount increments the end-marker counter.
func (Parser) BumpEndMarkerCount(state State) State {
	state.endCount++
	return state
}

// ResetEndMarkerCount clears the end-marker counter.
func (Parser) ResetEndMarkerCount(state State) State {
	state.endCount = 0
	return state
}

// FrequencyEntry is one row of the sorted call-frequency output.
type FrequencyEntry struct {
	Uid   schema.FunctionUid
	Count uint64
}

// Result sorts state's frequency table into the descending-by-count
// vector spec §4.6 names as the call-tracing parser's output, breaking
// ties by FunctionUid for deterministic ordering.
func Result(state State) []FrequencyEntry {
	out := make([]FrequencyEntry, 0, len(state.freq))
	for uid, count := range state.freq {
		out = append(out, FrequencyEntry{Uid: uid, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Uid.Less(out[j].Uid)
	})
	return out
}
