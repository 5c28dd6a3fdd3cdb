package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/transport"
)

func TestRingWaitFullReturnsPushedPayload(t *testing.T) {
	r := NewRing(4)
	r.Push([]byte{1, 2, 3})

	view, err := r.WaitFull()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, view.AsSlice())
	require.NoError(t, r.Release())
}

func TestRingReleaseWithoutBorrowFails(t *testing.T) {
	r := NewRing(1)
	assert.Error(t, r.Release())
}

func TestRingEndMarkerIsEmptyView(t *testing.T) {
	r := NewRing(1)
	r.Push(nil)

	view, err := r.WaitFull()
	require.NoError(t, err)
	assert.True(t, view.Empty())
}

func TestMetadataChannelRoundTrip(t *testing.T) {
	c := NewMetadataChannel()
	want := transport.Record{BuffCount: 8, BuffLen: 64, Mode: transport.ModeCapture}

	require.NoError(t, c.Publish(want))
	got, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
