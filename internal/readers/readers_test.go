package readers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedReaderSingleChunk(t *testing.T) {
	r := NewFixed(4)
	p := r.Read([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Payload)
	assert.Equal(t, 4, p.Consumed)
	assert.True(t, r.Done())
}

func TestFixedReaderSpansChunks(t *testing.T) {
	r := NewFixed(4)
	p := r.Read([]byte{1, 2})
	assert.Equal(t, NotYet, p.Kind)
	assert.Equal(t, 2, p.Consumed)
	assert.False(t, r.Done())

	p = r.Read([]byte{3, 4, 5})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Payload)
	assert.Equal(t, 2, p.Consumed)
}

func TestFixedReaderZeroSize(t *testing.T) {
	r := NewFixed(0)
	p := r.Read([]byte{9, 9, 9})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{}, p.Payload)
	assert.Equal(t, 0, p.Consumed)
	assert.True(t, r.Done())
}

func TestFixedReaderNopAfterDoneWithoutReset(t *testing.T) {
	r := NewFixed(1)
	r.Read([]byte{1})
	p := r.Read([]byte{2})
	assert.Equal(t, Nop, p.Kind)
}

func TestFixedReaderResetOnlyWorksWhenDone(t *testing.T) {
	r := NewFixed(2)
	assert.False(t, r.Reset(), "reset before Done is a no-op")
	r.Read([]byte{1, 2})
	assert.True(t, r.Reset())
	p := r.Read([]byte{3, 4})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{3, 4}, p.Payload)
}

func TestFixedReaderReinitChangesSize(t *testing.T) {
	r := NewFixed(2)
	r.Read([]byte{1, 2})
	assert.True(t, r.Done())
	r.Reinit(3)
	p := r.Read([]byte{9, 8, 7, 6})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{9, 8, 7}, p.Payload)
	assert.Equal(t, 3, p.Consumed)
}

func TestCStringReaderSingleChunk(t *testing.T) {
	r := NewCString()
	p := r.Read([]byte{'h', 'i', 0, 'x'})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{'h', 'i', 0}, p.Payload)
	assert.Equal(t, 3, p.Consumed)
}

func TestCStringReaderSpansChunks(t *testing.T) {
	r := NewCString()
	p := r.Read([]byte{'a', 'b'})
	assert.Equal(t, NotYet, p.Kind)
	assert.Equal(t, 2, p.Consumed)

	p = r.Read([]byte{'c', 0})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, p.Payload)
	assert.Equal(t, 2, p.Consumed)
}

func TestCustomReaderZeroLength(t *testing.T) {
	r := NewCustom()
	p := r.Read([]byte{0, 0, 0, 0, 0, 0, 0, 0, 9, 9})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{}, p.Payload)
	assert.Equal(t, 8, p.Consumed)
}

func TestCustomReaderLengthSpansChunks(t *testing.T) {
	r := NewCustom()
	p := r.Read([]byte{2, 0})
	assert.Equal(t, NotYet, p.Kind)
	assert.Equal(t, 2, p.Consumed)

	p = r.Read([]byte{0, 0, 0, 0, 0, 0, 'h', 'i'})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{'h', 'i'}, p.Payload)
	assert.Equal(t, 8, p.Consumed, "length bytes + payload bytes consumed from this chunk only")
}

func TestCustomReaderPayloadSpansChunks(t *testing.T) {
	r := NewCustom()
	p := r.Read([]byte{4, 0, 0, 0, 0, 0, 0, 0, 'a', 'b'})
	assert.Equal(t, NotYet, p.Kind)
	assert.Equal(t, 10, p.Consumed)

	p = r.Read([]byte{'c', 'd', 'e'})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{'a', 'b', 'c', 'd'}, p.Payload)
	assert.Equal(t, 2, p.Consumed)
}

func TestCustomReaderResetAfterDone(t *testing.T) {
	r := NewCustom()
	r.Read([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	assert.True(t, r.Done())
	assert.True(t, r.Reset())
	p := r.Read([]byte{1, 0, 0, 0, 0, 0, 0, 0, 'z'})
	assert.Equal(t, Done, p.Kind)
	assert.Equal(t, []byte{'z'}, p.Payload)
}
