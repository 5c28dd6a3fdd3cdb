package bufview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShiftAdvancesAndReturnsBytes(t *testing.T) {
	v := New([]byte{1, 2, 3, 4, 5})
	next, taken, err := v.Shift(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, taken)
	assert.Equal(t, 2, next.Len())
}

func TestShiftInsufficientData(t *testing.T) {
	v := New([]byte{1, 2})
	_, _, err := v.Shift(3)
	require.Error(t, err)
}

func TestShiftUint32LittleEndian(t *testing.T) {
	v := New([]byte{0x78, 0x56, 0x34, 0x12, 0xFF})
	next, n, err := v.ShiftUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), n)
	assert.Equal(t, 1, next.Len())
}

func TestConstrainDoesNotConsume(t *testing.T) {
	v := New([]byte{1, 2, 3, 4, 5})
	limited := v.Constrain(2)
	assert.Equal(t, []byte{1, 2}, limited.AsSlice())
	assert.Equal(t, 5, v.Len(), "Constrain must not mutate the receiver")
}

func TestConstrainClampsToAvailable(t *testing.T) {
	v := New([]byte{1, 2})
	limited := v.Constrain(10)
	assert.Equal(t, 2, limited.Len())
}

func TestEmptyView(t *testing.T) {
	assert.True(t, New(nil).Empty())
	assert.False(t, New([]byte{0}).Empty())
}

func TestPutUint32RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutUint32(buf, 2, 0xDEADBEEF)
	v := New(buf)
	v, _, err := v.Shift(2)
	require.NoError(t, err)
	_, n, err := v.ShiftUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), n)
}
