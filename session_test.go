package callcap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStartsIdle(t *testing.T) {
	s := NewSession("session-test-idle", 4, 64, NewFakeModuleMap(), Target{})
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, "session-test-idle", s.Info().Prefix)
	assert.Nil(t, s.LastError())
}

func TestSessionTraceCallsFailsWithoutTarget(t *testing.T) {
	s := NewSession("session-test-trace", 4, 64, NewFakeModuleMap(), Target{})
	_, err := s.TraceCalls()
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	assert.NotNil(t, s.LastError())
}

func TestSessionCaptureArgsFailsWithoutTarget(t *testing.T) {
	s := NewSession("session-test-capture", 4, 64, NewFakeModuleMap(), Target{})
	err := s.CaptureArgs(func(FunctionUid, []byte) error { return nil })
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionStopIsBestEffortOnMissingResources(t *testing.T) {
	s := NewSession("session-test-stop-missing", 4, 64, NewFakeModuleMap(), Target{})
	err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, s.State())
}

func TestSessionStopHonorsContextCancellation(t *testing.T) {
	s := NewSession("session-test-stop-cancel", 4, 64, NewFakeModuleMap(), Target{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Stop(ctx)
	// Cleanup itself may win the race against an already-cancelled
	// context; either outcome is valid as long as Stop does not hang.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestSessionMetricsSnapshotStartsZero(t *testing.T) {
	s := NewSession("session-test-metrics", 4, 64, NewFakeModuleMap(), Target{})
	snap := s.MetricsSnapshot()
	assert.Zero(t, snap.BuffersDrained)
}

func TestSessionStateStringers(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
}
