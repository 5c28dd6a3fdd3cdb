package replay

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/logging"
	"github.com/abrandt/callcap/internal/schema"
)

// PacketSource answers a PKT request for one (module, function)'s
// recorded packets. *packets.Reader satisfies this directly.
type PacketSource interface {
	GetPacket(index int) ([]byte, error)
}

// TestResult is one (m, f, test_index, status) outcome appended on a
// TEST_END frame (spec §4.10).
type TestResult struct {
	Uid       schema.FunctionUid
	TestIndex uint64
	Status    Status
}

// clientState is the per-connection state machine (spec §4.10's
// Init → Started(m,f) → Ended).
type clientState int

const (
	stateInit clientState = iota
	stateStarted
	stateEnded
)

// Server answers recorded-packet requests over a Unix-domain socket
// while the test stage replays a target against recorded captures.
type Server struct {
	path     string
	listener *net.UnixListener

	mu      sync.Mutex
	sources map[schema.FunctionUid]PacketSource
	results []TestResult

	ready chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewServer binds a Unix-domain socket at <prefix>-test-server under
// /tmp (spec §6's resource-prefix convention), unlinking any stale
// socket file left by a previous run.
func NewServer(resourcePrefix string) (*Server, error) {
	path := fmt.Sprintf(constants.TestServerSocketFmt, resourcePrefix)
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("replay: resolve %s: %w", path, err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("replay: listen %s: %w", path, err)
	}

	return &Server{
		path:     path,
		listener: l,
		sources:  make(map[schema.FunctionUid]PacketSource),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
	}, nil
}

// RegisterSource makes uid's recorded packets available to PKT
// requests naming it.
func (s *Server) RegisterSource(uid schema.FunctionUid, src PacketSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[uid] = src
}

// Results returns every TEST_END outcome recorded so far.
func (s *Server) Results() []TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TestResult, len(s.results))
	copy(out, s.results)
	return out
}

// Ready fires once bind has succeeded and Serve's accept loop is
// running (spec §4.10's one-shot "ready" signal).
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Serve runs the accept loop until Stop is called, polling for new
// connections with AcceptPollInterval so shutdown is observed promptly
// (spec §4.10). It returns after every spun-off client goroutine has
// drained and the socket path has been unlinked.
func (s *Server) Serve() error {
	close(s.ready)
	defer func() {
		s.wg.Wait()
		_ = os.Remove(s.path)
	}()

	for {
		select {
		case <-s.stop:
			return s.listener.Close()
		default:
		}

		if err := s.listener.SetDeadline(time.Now().Add(constants.AcceptPollInterval)); err != nil {
			return fmt.Errorf("replay: set accept deadline: %w", err)
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-s.stop:
				return nil
			default:
				return fmt.Errorf("replay: accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handleClient(conn); err != nil {
				logging.Default().Debug("replay client closed", "error", err.Error())
			}
		}()
	}
}

// Stop signals Serve's accept loop to exit after draining in-flight
// clients (spec §4.10's one-shot "end" receiver).
func (s *Server) Stop() {
	close(s.stop)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// handleClient drives one connection's Init → Started → Ended state
// machine, closing the connection on any other transition (spec
// §4.10's ProtocolError rule).
func (s *Server) handleClient(conn net.Conn) error {
	defer conn.Close()

	state := stateInit
	var current schema.FunctionUid

	frame := make([]byte, constants.RequestFrameSize)
	for {
		stopped, err := s.readFrame(conn, frame)
		if stopped {
			return nil
		}
		if err != nil {
			return err
		}

		req, err := decodeRequest(frame)
		if err != nil {
			return err
		}

		switch req.tag {
		case TagStart:
			if state != stateInit {
				return fmt.Errorf("replay: START received in state %d", state)
			}
			uid, err := decodeStart(req.payload)
			if err != nil {
				return err
			}
			current = uid
			state = stateStarted

		case TagPacket:
			if state != stateStarted {
				return fmt.Errorf("replay: PKT received in state %d", state)
			}
			idx, err := decodePacketIndex(req.payload)
			if err != nil {
				return err
			}
			if err := s.respondPacket(conn, current, idx); err != nil {
				return err
			}

		case TagTestEnd:
			if state != stateStarted {
				return fmt.Errorf("replay: TEST_END received in state %d", state)
			}
			testIdx, status, err := decodeTestEnd(req.payload)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.results = append(s.results, TestResult{Uid: current, TestIndex: testIdx, Status: status})
			s.mu.Unlock()

		case TagTestFinish:
			if state != stateStarted {
				return fmt.Errorf("replay: TEST_FINISH received in state %d", state)
			}
			state = stateEnded
			return nil

		default:
			return fmt.Errorf("replay: unknown tag %d", req.tag)
		}
	}
}

// respondPacket writes the index-th recorded packet for uid, wrapping
// out-of-range indices to the first packet (spec §4.9/§4.10's
// best-effort PKT response), retrying short writes rather than
// treating them as would-block errors.
func (s *Server) respondPacket(conn net.Conn, uid schema.FunctionUid, index uint64) error {
	s.mu.Lock()
	src, ok := s.sources[uid]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("replay: no recorded packets for %s", uid)
	}

	payload, err := src.GetPacket(int(index))
	if err != nil {
		return fmt.Errorf("replay: get packet %d for %s: %w", index, uid, err)
	}
	return writeAll(conn, encodeResponse(payload))
}

// readFrame reads exactly len(frame) bytes, polling ClientReadPollInterval
// at a time so a quiet connection doesn't block Stop from being noticed,
// without losing bytes already read across a poll timeout.
func (s *Server) readFrame(conn net.Conn, frame []byte) (stopped bool, err error) {
	total := 0
	for total < len(frame) {
		select {
		case <-s.stop:
			return true, nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(constants.ClientReadPollInterval))
		n, readErr := conn.Read(frame[total:])
		total += n
		if readErr != nil {
			if isTimeout(readErr) {
				continue
			}
			return false, readErr
		}
	}
	return false, nil
}

func writeAll(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		total += n
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("replay: write: %w", err)
		}
	}
	return nil
}
