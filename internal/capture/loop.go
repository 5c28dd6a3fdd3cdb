// Package capture implements the generic capture loop shared by the
// call-tracing and argument-capture stages (spec §4.5). It is
// parameterized over a Parser so both stages reuse the same blocking,
// acking, and termination logic, grounded on the teacher's
// internal/queue.Runner wait/process/release loop shape, generalized
// from io_uring completions to POSIX semaphore wait/post via a Source.
package capture

import (
	"fmt"
	"time"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/logging"
	"github.com/abrandt/callcap/internal/schema"
)

// Observer receives buffer-level and protocol-health events from Run,
// shaped to match the root package's Observer/Metrics facade
// structurally (capture must not import the root package, which wires
// capture.Run from the orchestrator, or the import would cycle).
type Observer interface {
	ObserveBuffer(payloadBytes uint64, latencyNs uint64)
	ObserveProtocolError()
}

// Source is the buffer-delivery side the loop drives: a ring that
// blocks on wait_full, yields a view, and is released afterward.
// internal/transport.Ring satisfies this.
type Source interface {
	WaitFull() (bufview.View, error)
	Release() error
}

// Parser is the per-stage state machine the loop drives. S is the
// parser's own state type (spec §4.5's "parser with partial state and
// end counter"); it is passed and returned by value so each stage can
// make it an immutable value type the way the spec's state-transition
// diagrams imply.
type Parser[S any] interface {
	// Default returns the parser's initial state.
	Default() S
	// Update consumes as much of view as the parser can, returning the
	// updated state. It is called repeatedly until view is exhausted.
	Update(state S, view bufview.View, mm *schema.ModuleMap) (S, bufview.View, error)
	// Finalize is called once per buffer, after release, to commit any
	// messages the state has accumulated (e.g. bump a frequency map,
	// flush a packet to the dumper).
	Finalize(state S) (S, error)
	// IsEmpty reports whether state has no in-flight partial record —
	// required to be true when an end-marker buffer arrives (spec §4.5
	// step 2).
	IsEmpty(state S) bool
	// EndMarkerCount reads the state's end-marker counter.
	EndMarkerCount(state S) int
	// BumpEndMarkerCount returns state with its end-marker counter
	// incremented by one; called by the loop when an end-marker buffer
	// arrives.
	BumpEndMarkerCount(state S) S
	// ResetEndMarkerCount returns state with its end-marker counter
	// cleared; called by the loop after every non-empty buffer, so only
	// consecutive end markers count toward termination.
	ResetEndMarkerCount(state S) S
}

// Run drives the generic capture loop (spec §4.5) to completion: it
// blocks on src.WaitFull, updates the parser across the returned view,
// releases the buffer, finalizes, and terminates successfully once N
// consecutive end markers have been observed. obs may be nil, in which
// case no events are reported. The final state is returned so callers
// (e.g. the orchestrator's trace-calls driver) can read whatever the
// parser accumulated — a frequency table, a committed-record sink's
// side effects, and so on.
func Run[S any](src Source, parser Parser[S], mm *schema.ModuleMap, n int, obs Observer) (S, error) {
	if obs == nil {
		obs = noOpObserver{}
	}
	state := parser.Default()

	for {
		start := time.Now()
		view, err := src.WaitFull()
		if err != nil {
			return state, fmt.Errorf("capture: wait_full: %w", err)
		}
		payloadLen := view.Len()

		if view.Empty() {
			if !parser.IsEmpty(state) {
				_ = src.Release()
				obs.ObserveProtocolError()
				return state, fmt.Errorf("capture: end marker arrived with parser mid-record")
			}
			state = parser.BumpEndMarkerCount(state)
		} else {
			state, err = drive(parser, state, view, mm)
			if err != nil {
				_ = src.Release()
				obs.ObserveProtocolError()
				return state, fmt.Errorf("capture: update: %w", err)
			}
			state = parser.ResetEndMarkerCount(state)
		}

		if err := src.Release(); err != nil {
			return state, fmt.Errorf("capture: release: %w", err)
		}

		state, err = parser.Finalize(state)
		if err != nil {
			obs.ObserveProtocolError()
			return state, fmt.Errorf("capture: finalize: %w", err)
		}

		obs.ObserveBuffer(uint64(payloadLen), uint64(time.Since(start)))

		if parser.EndMarkerCount(state) >= n {
			logging.Default().Debug("capture loop terminated", "end_markers", parser.EndMarkerCount(state))
			return state, nil
		}
	}
}

// noOpObserver discards every event; used when Run is called with a
// nil Observer.
type noOpObserver struct{}

func (noOpObserver) ObserveBuffer(uint64, uint64) {}
func (noOpObserver) ObserveProtocolError()        {}

// drive calls Update repeatedly until the view is exhausted, letting
// the parser consume as much or as little as it wants per call.
func drive[S any](parser Parser[S], state S, view bufview.View, mm *schema.ModuleMap) (S, error) {
	for !view.Empty() {
		var err error
		state, view, err = parser.Update(state, view, mm)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}
