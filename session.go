package callcap

import (
	"context"
	"fmt"
	"sync"

	"github.com/abrandt/callcap/internal/orchestrator"
	"github.com/abrandt/callcap/internal/replay"
	"github.com/abrandt/callcap/internal/tracer"
)

// SessionState is a Session's lifecycle stage.
type SessionState int

const (
	StateIdle SessionState = iota
	StateRunning
	StateStopped
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Info is a point-in-time description of a Session's static configuration.
type Info struct {
	Prefix    string
	BuffCount int
	BuffSize  int
}

// Target names the instrumented binary a Session spawns for each stage.
type Target = orchestrator.Target

// Session drives one resource-prefix's worth of transport through
// whichever stage the caller invokes, tracking Metrics and lifecycle
// state across the call the way the teacher's Device tracks one served
// ublk device end to end (spec §4.11's orchestrator, wrapped here for
// programmatic and CLI use).
type Session struct {
	mu      sync.Mutex
	info    Info
	mm      *ModuleMap
	target  Target
	metrics *Metrics
	state   SessionState
	lastErr error
}

// NewSession constructs an idle Session bound to prefix, ring
// geometry, the module map it validates traffic against, and the
// target binary it spawns per stage.
func NewSession(prefix string, buffCount, buffSize int, mm *ModuleMap, target Target) *Session {
	return &Session{
		info:    Info{Prefix: prefix, BuffCount: buffCount, BuffSize: buffSize},
		mm:      mm,
		target:  target,
		metrics: NewMetrics(),
		state:   StateIdle,
	}
}

// State reports the Session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error from the most recently failed stage, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Info returns the Session's static configuration.
func (s *Session) Info() Info { return s.info }

// Metrics returns the live counters backing this Session's stages.
func (s *Session) Metrics() *Metrics { return s.metrics }

// MetricsSnapshot returns a point-in-time copy of Metrics.
func (s *Session) MetricsSnapshot() MetricsSnapshot { return s.metrics.Snapshot() }

func (s *Session) setState(st SessionState, err error) {
	s.mu.Lock()
	s.state = st
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) geometry() orchestrator.Geometry {
	return orchestrator.Geometry{BuffCount: s.info.BuffCount, BuffSize: s.info.BuffSize}
}

// TraceCalls runs the call-tracing stage to completion (spec §4.11
// "Trace-calls"), returning the sorted call-frequency table.
func (s *Session) TraceCalls() ([]tracer.FrequencyEntry, error) {
	s.setState(StateRunning, nil)
	obs := NewMetricsObserver(s.metrics)
	entries, err := orchestrator.RunTraceCalls(orchestrator.TraceCallsOptions{
		Prefix:    s.info.Prefix,
		Geometry:  s.geometry(),
		ModuleMap: s.mm.ModuleMap,
		Target:    s.target,
		Observer:  obs,
	})
	if err != nil {
		s.setState(StateFailed, err)
		return nil, WithContext("trace_calls", err)
	}
	s.setState(StateStopped, nil)
	return entries, nil
}

// CaptureArgs runs the argument-capture stage to completion (spec
// §4.11 "Capture-args"), handing each committed record's concatenated
// argument payload to dump (typically a *packets.Dumper.Dump-shaped
// function, kept as a callback so this package does not need to import
// internal/packets).
func (s *Session) CaptureArgs(dump func(uid FunctionUid, payload []byte) error) error {
	s.setState(StateRunning, nil)
	obs := NewMetricsObserver(s.metrics)
	sink := orchestrator.NewDumperSink(dump, obs)
	err := orchestrator.RunCaptureArgsWithSink(s.info.Prefix, s.geometry(), s.mm.ModuleMap, sink, s.target, obs)
	if err != nil {
		s.setState(StateFailed, err)
		return WithContext("capture_args", err)
	}
	s.setState(StateStopped, nil)
	return nil
}

// Test runs the replay-testing stage to completion (spec §4.11
// "Test"), feeding cases back through sources and returning every
// recorded outcome.
func (s *Session) Test(sources map[FunctionUid]replay.PacketSource, cases []orchestrator.TestCase) ([]replay.TestResult, error) {
	s.setState(StateRunning, nil)
	results, err := orchestrator.RunTest(s.info.Prefix, sources, cases, s.target)
	if err != nil {
		s.setState(StateFailed, err)
		return nil, WithContext("test", err)
	}
	s.setState(StateStopped, nil)
	return results, nil
}

// Stop releases any named semaphores, shared-memory objects, and the
// test-server socket left behind for this Session's prefix (spec §6's
// --cleanup semantics), for use after a stage fails or a caller gives
// up waiting on one. It does not interrupt a stage currently blocked
// inside a capture loop — that requires the target process itself to
// exit (or be killed externally), which is what triggers the
// child-monitor's finalizer flush.
func (s *Session) Stop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- orchestrator.Cleanup(s.info.Prefix) }()
	select {
	case err := <-done:
		if err != nil {
			return WithContext("stop", err)
		}
		s.setState(StateStopped, nil)
		return nil
	case <-ctx.Done():
		return WithContext("stop", ctx.Err())
	}
}
