// Package orchestrator implements the three per-stage drivers (spec
// §4.11): trace-calls, capture-args, and test. The trace-calls and
// capture-args drivers each create the POSIX transport, spawn the
// instrumented target process, spawn a child monitor that unblocks a
// stuck capture loop on signal termination, and drive the matching
// capture-loop parser to completion; the test driver instead runs the
// replay server and spawns the target once per test case. Grounded on the teacher's device.go orchestration shape
// (create resources, spawn, supervise, tear down in reverse order) and
// runner.go's goroutine-driven completion monitor, generalized from an
// io_uring completion queue to a polled os/exec.Cmd.Wait.
package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/abrandt/callcap/internal/argcapture"
	"github.com/abrandt/callcap/internal/capture"
	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/logging"
	"github.com/abrandt/callcap/internal/schema"
	"github.com/abrandt/callcap/internal/tracer"
	"github.com/abrandt/callcap/internal/transport"
)

// Target names the instrumented target binary to spawn. Spawning the
// target and the compiler instrumentation it embeds are external
// collaborators; this only wraps os/exec the way the orchestrator must
// to launch whatever the caller points it at.
type Target struct {
	Command string
	Args    []string
}

func (t Target) spawn() (*exec.Cmd, error) {
	if t.Command == "" {
		return nil, fmt.Errorf("orchestrator: no target command configured")
	}
	cmd := exec.Command(t.Command, t.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("orchestrator: spawn target: %w", err)
	}
	return cmd, nil
}

// childMonitor polls a spawned target's exit status every
// ChildMonitorPollInterval (spec §4.11). On signal-termination it
// flushes the finalizer so a capture loop blocked in WaitFull observes
// synthetic end markers and drains instead of hanging forever. On
// normal exit it does nothing, matching the spec's "does nothing"
// clause.
//
// os/exec exposes no direct try_wait syscall; Cmd.Wait blocks until
// the child exits. The monitor reaches the same observable behavior —
// checking exit status on a fixed interval — by running Wait on its
// own goroutine and polling the resulting channel from a ticker loop.
type childMonitor struct {
	wg   sync.WaitGroup
	stop chan struct{}
}

func startChildMonitor(cmd *exec.Cmd, desc transport.FinalizerDescriptor) *childMonitor {
	m := &childMonitor{stop: make(chan struct{})}
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(constants.ChildMonitorPollInterval)
		defer ticker.Stop()
		for {
			select {
			case err := <-waitDone:
				if signaledExit(cmd.ProcessState) {
					logging.Default().Error("target terminated by signal, flushing finalizer", "error", err)
					if ferr := transport.NewFinalizer(desc).Flush(); ferr != nil {
						logging.Default().Error("finalizer flush failed", "error", ferr)
					}
				}
				return
			case <-ticker.C:
				// Poll tick; try_wait is a no-op until waitDone fires.
			case <-m.stop:
				return
			}
		}
	}()
	return m
}

// stopAndWait waits for the monitor goroutine to observe the target's exit.
// It does not kill the target; callers that need to kill it on their
// own teardown path do so before calling stopAndWait.
func (m *childMonitor) stopAndWait() {
	m.wg.Wait()
}

func signaledExit(state *os.ProcessState) bool {
	if state == nil {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}

// Geometry bundles the ring dimensions shared by every stage.
type Geometry struct {
	BuffCount int
	BuffSize  int
}

func (g Geometry) totalLen() uint32 { return uint32(g.BuffCount * g.BuffSize) }

// TraceCallsOptions configures RunTraceCalls.
type TraceCallsOptions struct {
	Prefix    string
	Geometry  Geometry
	ModuleMap *schema.ModuleMap
	Target    Target
	Observer  capture.Observer
}

// RunTraceCalls drives the call-tracing stage (spec §4.11 "Trace-calls"):
// create transport, create metadata publisher, spawn target, spawn
// child monitor, send mode=0 metadata, run the capture loop with the
// §4.6 parser, deinit transport and publisher, and return the
// resulting call-frequency table.
func RunTraceCalls(opts TraceCallsOptions) ([]tracer.FrequencyEntry, error) {
	ring, desc, err := transport.TryNewRing(opts.Prefix, opts.Geometry.BuffCount, opts.Geometry.BuffSize)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trace-calls: create ring: %w", err)
	}
	defer ring.Deinit()

	meta, err := transport.NewMetadataChannel()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trace-calls: create metadata channel: %w", err)
	}
	defer meta.Deinit()

	cmd, err := opts.Target.spawn()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trace-calls: %w", err)
	}
	monitor := startChildMonitor(cmd, desc)
	defer monitor.stopAndWait()

	record := transport.Record{
		BuffCount: uint32(opts.Geometry.BuffCount),
		BuffLen:   uint32(opts.Geometry.BuffSize),
		TotalLen:  opts.Geometry.totalLen(),
		Mode:      transport.ModeTrace,
	}
	if err := meta.Publish(record); err != nil {
		return nil, fmt.Errorf("orchestrator: trace-calls: publish metadata: %w", err)
	}

	state, err := capture.Run[tracer.State](ring, tracer.Parser{}, opts.ModuleMap, opts.Geometry.BuffCount, opts.Observer)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trace-calls: %w", err)
	}
	entries := tracer.Result(state)
	for _, e := range entries {
		if _, ferr := opts.ModuleMap.Function(e.Uid); ferr != nil {
			logging.Default().Warn("traced function id absent from module map", "uid", e.Uid, "count", e.Count)
		}
	}
	return entries, nil
}

// NewDumperSink builds an argcapture.Sink that serializes each
// committed record's argument payloads back-to-back (the same layout
// the target wrote them in) and hands the result to dump, reporting
// ObserveRecord/ObservePacketDumped-shaped counters through obs if set.
func NewDumperSink(dump func(uid schema.FunctionUid, payload []byte) error, obs RecordObserver) argcapture.Sink {
	return &recordingDumperSink{dump: dump, obs: obs}
}

// RecordObserver is the subset of the root package's Observer this
// package needs for per-record events, kept local to avoid importing
// the root package (which imports this one).
type RecordObserver interface {
	ObserveRecord()
	ObservePacketDumped()
}

type recordingDumperSink struct {
	dump func(uid schema.FunctionUid, payload []byte) error
	obs  RecordObserver
}

func (s *recordingDumperSink) Commit(rec argcapture.Record) error {
	var payload []byte
	for _, arg := range rec.Args {
		payload = append(payload, arg...)
	}
	if s.obs != nil {
		s.obs.ObserveRecord()
	}
	// A zero-argument function's record has no bytes to capture. Dumping
	// it anyway would write a length-0 record, which the packet reader
	// treats as an end-of-stream marker (spec §4.9) — so it would
	// truncate every later real packet for this function. Skip the dump
	// rather than write a record indistinguishable from the terminator.
	if len(payload) == 0 {
		return nil
	}
	if err := s.dump(rec.Uid, payload); err != nil {
		return err
	}
	if s.obs != nil {
		s.obs.ObservePacketDumped()
	}
	return nil
}

// RunCaptureArgsWithSink drives the argument-capture stage (spec §4.11
// "Capture-args") against an already-masked module map and a
// caller-constructed Sink (typically NewDumperSink wrapping a
// packets.Dumper, decoupling this package from internal/packets).
func RunCaptureArgsWithSink(prefix string, geom Geometry, mm *schema.ModuleMap, sink argcapture.Sink, target Target, obs capture.Observer) error {
	ring, desc, err := transport.TryNewRing(prefix, geom.BuffCount, geom.BuffSize)
	if err != nil {
		return fmt.Errorf("orchestrator: capture-args: create ring: %w", err)
	}
	defer ring.Deinit()

	meta, err := transport.NewMetadataChannel()
	if err != nil {
		return fmt.Errorf("orchestrator: capture-args: create metadata channel: %w", err)
	}
	defer meta.Deinit()

	cmd, err := target.spawn()
	if err != nil {
		return fmt.Errorf("orchestrator: capture-args: %w", err)
	}
	monitor := startChildMonitor(cmd, desc)
	defer monitor.stopAndWait()

	record := transport.Record{
		BuffCount: uint32(geom.BuffCount),
		BuffLen:   uint32(geom.BuffSize),
		TotalLen:  geom.totalLen(),
		Mode:      transport.ModeCapture,
	}
	if err := meta.Publish(record); err != nil {
		return fmt.Errorf("orchestrator: capture-args: publish metadata: %w", err)
	}

	_, err = capture.Run[argcapture.State](ring, argcapture.New(sink), mm, geom.BuffCount, obs)
	if err != nil {
		return fmt.Errorf("orchestrator: capture-args: %w", err)
	}
	return nil
}
