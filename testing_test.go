package callcap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/transport"
)

func TestNewFakeModuleMapIsValid(t *testing.T) {
	mm := NewFakeModuleMap()

	specs, err := mm.ArgumentSpecs(FunctionUid{Module: 1, Function: 1})
	require.NoError(t, err)
	assert.Equal(t, []ArgumentSpec{Fixed(4)}, specs)

	specs, err = mm.ArgumentSpecs(FunctionUid{Module: 1, Function: 2})
	require.NoError(t, err)
	assert.Equal(t, []ArgumentSpec{CStringArg()}, specs)
}

func TestNewLoopbackTransportRoundTrips(t *testing.T) {
	lb := NewLoopbackTransport(2)
	defer lb.Close()

	lb.Ring.Push([]byte{1, 2, 3})
	view, err := lb.Ring.WaitFull()
	require.NoError(t, err)
	assert.Equal(t, 3, view.Len())
	require.NoError(t, lb.Ring.Release())

	require.NoError(t, lb.Metadata.Publish(transport.Record{Mode: transport.ModeTrace}))
	record, err := lb.Metadata.Receive()
	require.NoError(t, err)
	assert.Equal(t, transport.ModeTrace, record.Mode)
}
