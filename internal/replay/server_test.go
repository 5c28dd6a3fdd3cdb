package replay

import (
	"encoding/binary"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/schema"
)

type memSource struct {
	packets [][]byte
}

func (m *memSource) GetPacket(index int) ([]byte, error) {
	if index < 0 || index >= len(m.packets) {
		if len(m.packets) == 0 {
			return nil, fmt.Errorf("empty")
		}
		index = 0
	}
	return m.packets[index], nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "cc")
	s, err := NewServer(prefix)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	go func() {
		_ = s.Serve()
	}()
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", s.path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn net.Conn, tag Tag, payload [14]byte) {
	t.Helper()
	frame := make([]byte, 16)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(tag))
	copy(frame[2:], payload[:])
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func startPayload(m, f uint32) [14]byte {
	var p [14]byte
	binary.LittleEndian.PutUint32(p[0:4], m)
	binary.LittleEndian.PutUint32(p[4:8], f)
	return p
}

func pktPayload(index uint64) [14]byte {
	var p [14]byte
	binary.LittleEndian.PutUint64(p[0:8], index)
	return p
}

func testEndPayload(testIdx uint64, status Status) [14]byte {
	var p [14]byte
	binary.LittleEndian.PutUint64(p[0:8], testIdx)
	binary.LittleEndian.PutUint16(p[8:10], uint16(status.Tag))
	binary.LittleEndian.PutUint32(p[10:14], uint32(status.Code))
	return p
}

func TestStartThenPacketReturnsRecordedPayload(t *testing.T) {
	s := newTestServer(t)
	uid := schema.FunctionUid{Module: 1, Function: 2}
	s.RegisterSource(uid, &memSource{packets: [][]byte{{0xAA, 0xBB}, {0xCC}}})

	conn := dial(t, s)
	sendFrame(t, conn, TagStart, startPayload(1, 2))
	sendFrame(t, conn, TagPacket, pktPayload(0))

	var lenField [4]byte
	_, err := conn.Read(lenField[:])
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(lenField[:])
	require.EqualValues(t, 2, n)

	payload := make([]byte, n)
	_, err = conn.Read(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)
}

func TestPacketBeforeStartIsProtocolViolationAndCloses(t *testing.T) {
	s := newTestServer(t)
	conn := dial(t, s)
	sendFrame(t, conn, TagPacket, pktPayload(0))

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Read(buf)
	assert.Error(t, err, "server must close the connection on an out-of-order PKT")
}

func TestTestEndRecordsResultAndFinishEndsSession(t *testing.T) {
	s := newTestServer(t)
	uid := schema.FunctionUid{Module: 3, Function: 4}
	conn := dial(t, s)

	sendFrame(t, conn, TagStart, startPayload(3, 4))
	sendFrame(t, conn, TagTestEnd, testEndPayload(7, Status{Tag: StatusExit, Code: 0}))
	sendFrame(t, conn, TagTestFinish, [14]byte{})

	require.Eventually(t, func() bool {
		return len(s.Results()) == 1
	}, time.Second, 10*time.Millisecond)

	results := s.Results()
	assert.Equal(t, uid, results[0].Uid)
	assert.Equal(t, uint64(7), results[0].TestIndex)
	assert.Equal(t, StatusExit, results[0].Status.Tag)
}

func TestStopUnlinksSocketAfterDraining(t *testing.T) {
	s := newTestServer(t)
	path := s.path
	s.Stop()

	require.Eventually(t, func() bool {
		_, err := net.Dial("unix", path)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}
