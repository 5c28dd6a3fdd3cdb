// Package argcapture implements the argument-capture parser (spec
// §4.7): a capture.Parser that, for each traced call, reads a
// ModuleId, a FunctionId, and then that function's argument list using
// the stateful readers from internal/readers, committing the complete
// record to a Sink. Grounded on the teacher's TagState state-machine
// shape (internal/queue/runner.go), restructured for variable-length
// record parsing the way cloudwego-gopkg/protocol/thrift's stateful
// readers reset-and-continue across a framed stream.
package argcapture

import (
	"fmt"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/capture"
	"github.com/abrandt/callcap/internal/readers"
	"github.com/abrandt/callcap/internal/schema"
)

// phase identifies where in one logical packet the parser currently is.
type phase int

const (
	phaseEmpty phase = iota
	phaseGotModuleId
	phaseCapturing
)

// State is the argument-capture parser's state (spec §4.7's
// Empty/GotModuleId/Capturing/Done machine). A buffer can contain many
// complete packets back to back, so reaching Done inside Update
// immediately returns the machine to Empty and queues the record for
// Finalize to commit — the same accumulate-in-Update,
// commit-at-Finalize split the call-tracing parser (§4.6) uses, so one
// buffer's worth of packets commits together after release.
type State struct {
	ph       phase
	module   schema.ModuleId
	uid      schema.FunctionUid
	specs    []schema.ArgumentSpec
	argIndex int
	acc      [][]byte
	reader   readers.SizeTypeReader

	pendingCommits []Record
	endCount       int
}

// Record is one committed (function, argument-payloads) capture.
type Record struct {
	Uid  schema.FunctionUid
	Args [][]byte
}

// Sink receives each committed Record (the packet dumper, in
// production; an in-memory slice in tests).
type Sink interface {
	Commit(Record) error
}

// Parser implements capture.Parser[State], writing completed records
// to sink.
type Parser struct {
	sink Sink
}

// New constructs an argument-capture Parser that commits to sink.
func New(sink Sink) *Parser { return &Parser{sink: sink} }

var _ capture.Parser[State] = (*Parser)(nil)

// Default returns the Empty state.
func (*Parser) Default() State { return State{ph: phaseEmpty} }

// Update advances the state machine by as much of view as it can
// consume in one call (spec §4.7).
func (p *Parser) Update(state State, view bufview.View, mm *schema.ModuleMap) (State, bufview.View, error) {
	switch state.ph {
	case phaseEmpty:
		next, raw, err := view.ShiftUint32()
		if err != nil {
			return state, view, fmt.Errorf("argcapture: read module id: %w", err)
		}
		state.module = schema.ModuleId(raw)
		state.ph = phaseGotModuleId
		return state, next, nil

	case phaseGotModuleId:
		next, raw, err := view.ShiftUint32()
		if err != nil {
			return state, view, fmt.Errorf("argcapture: read function id: %w", err)
		}
		uid := schema.FunctionUid{Module: state.module, Function: schema.FunctionId(raw)}
		specs, err := mm.ArgumentSpecs(uid)
		if err != nil {
			// An unknown module/function id here is a wire-format
			// violation, not a lookup miss: the id came off the wire
			// with no legitimate source but a protocol mismatch
			// between tracer and target, so this stage categorizes
			// it as ProtocolError rather than propagating
			// ArgumentSpecs' generic NotFound.
			return state, next, schema.NewProtocolError("argcapture_update", fmt.Sprintf("unknown function %s: %v", uid, err))
		}
		state.uid = uid
		state.specs = specs
		state.argIndex = 0
		state.acc = make([][]byte, 0, len(specs))
		state.reader = nil
		if len(specs) == 0 {
			state = p.queueCommit(state)
			return state, next, nil
		}
		state.ph = phaseCapturing
		return state, next, nil

	case phaseCapturing:
		return p.capture(state, view)

	default:
		return state, view, fmt.Errorf("argcapture: unreachable phase %d", state.ph)
	}
}

// capture drives the current argument's reader across view, appending
// completed payloads to acc and advancing to the next argument (or
// queueing a commit and returning to Empty) as readers finish (spec
// §4.7's Capturing transitions).
func (p *Parser) capture(state State, view bufview.View) (State, bufview.View, error) {
	if state.reader == nil {
		state.reader = readerFor(state.specs[state.argIndex])
	}

	progress := state.reader.Read(view.AsSlice())
	switch progress.Kind {
	case readers.Done:
		next, _, err := view.Shift(progress.Consumed)
		if err != nil {
			return state, view, fmt.Errorf("argcapture: shift consumed bytes: %w", err)
		}
		state.acc = append(state.acc, progress.Payload)
		state.reader.Reset()
		state.reader = nil
		state.argIndex++
		if state.argIndex == len(state.specs) {
			state = p.queueCommit(state)
			return state, next, nil
		}
		return state, next, nil

	case readers.NotYet:
		return state, bufview.New(nil), nil

	default: // Nop
		return state, view, fmt.Errorf("argcapture: reader called after completion (empty-buffer assertion)")
	}
}

// queueCommit appends the just-completed packet to pendingCommits and
// returns the machine to Empty so the same buffer can start the next
// packet immediately.
func (p *Parser) queueCommit(state State) State {
	state.pendingCommits = append(state.pendingCommits, Record{Uid: state.uid, Args: state.acc})
	state.ph = phaseEmpty
	state.specs = nil
	state.acc = nil
	state.reader = nil
	return state
}

// Finalize commits every packet completed while processing the buffer
// just released (spec §4.7: "on commit, emit (uid, acc) to the
// dumper").
func (p *Parser) Finalize(state State) (State, error) {
	for _, rec := range state.pendingCommits {
		if err := p.sink.Commit(rec); err != nil {
			return state, fmt.Errorf("argcapture: commit: %w", err)
		}
	}
	state.pendingCommits = nil
	return state, nil
}

// IsEmpty reports whether no packet is currently in flight — required
// true for an end-marker buffer to be valid (spec §4.7 edge case).
func (*Parser) IsEmpty(state State) bool { return state.ph == phaseEmpty }

// EndMarkerCount reads the state's end-marker counter.
func (*Parser) EndMarkerCount(state State) int { return state.endCount }

// BumpEndMarkerCount increments the end-marker counter.
func (*Parser) BumpEndMarkerCount(state State) State {
	state.endCount++
	return state
}

// ResetEndMarkerCount clears the end-marker counter.
func (*Parser) ResetEndMarkerCount(state State) State {
	state.endCount = 0
	return state
}

// readerFor constructs the stateful reader for one argument spec (spec §4.8).
func readerFor(spec schema.ArgumentSpec) readers.SizeTypeReader {
	switch spec.Kind {
	case schema.KindCString:
		return readers.NewCString()
	case schema.KindCustom:
		return readers.NewCustom()
	default:
		return readers.NewFixed(spec.FixedSize)
	}
}
