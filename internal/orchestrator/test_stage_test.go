package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/replay"
	"github.com/abrandt/callcap/internal/schema"
)

type stubPacketSource struct {
	packets [][]byte
}

func (s *stubPacketSource) GetPacket(index int) ([]byte, error) {
	if index < 0 || index >= len(s.packets) {
		index = 0
	}
	return s.packets[index], nil
}

func TestRunTestDrivesEachCaseAndStopsServer(t *testing.T) {
	uid := schema.FunctionUid{Module: 1, Function: 2}
	sources := map[schema.FunctionUid]replay.PacketSource{
		uid: &stubPacketSource{packets: [][]byte{{1, 2, 3}}},
	}
	cases := []TestCase{
		{Uid: uid, TestIndex: 0},
		{Uid: uid, TestIndex: 1},
	}

	results, err := RunTest("orchestrator-test-runtest-prefix", sources, cases, Target{Command: "true"})
	require.NoError(t, err)
	assert.Empty(t, results) // no client connected to report a TestResult
}
