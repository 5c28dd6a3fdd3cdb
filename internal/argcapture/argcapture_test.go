package argcapture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/bufview"
	"github.com/abrandt/callcap/internal/schema"
)

type memSink struct {
	records []Record
}

func (s *memSink) Commit(r Record) error {
	s.records = append(s.records, r)
	return nil
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func buildModuleMap(t *testing.T) *schema.ModuleMap {
	t.Helper()
	mm := schema.NewModuleMap()
	mod, err := mm.AddModule(1, "/lib/mod.so")
	require.NoError(t, err)
	require.NoError(t, mod.AddFunction(1, "fixed4", []schema.ArgumentSpec{schema.Fixed(4)}))
	require.NoError(t, mod.AddFunction(2, "cstring", []schema.ArgumentSpec{schema.CStringArg()}))
	require.NoError(t, mod.AddFunction(3, "noargs", nil))
	require.NoError(t, mod.AddFunction(4, "two", []schema.ArgumentSpec{schema.Fixed(0), schema.Fixed(2)}))
	return mm
}

func drive(t *testing.T, p *Parser, state State, mm *schema.ModuleMap, payload []byte) State {
	t.Helper()
	view := bufview.New(payload)
	var err error
	for !view.Empty() {
		state, view, err = p.Update(state, view, mm)
		require.NoError(t, err)
	}
	state, err = p.Finalize(state)
	require.NoError(t, err)
	return state
}

func TestCapturesFixedArgumentWithinOneBuffer(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	payload := append(append(le32(1), le32(1)...), []byte{0xAA, 0xBB, 0xCC, 0xDD}...)
	state = drive(t, p, state, mm, payload)

	require.Len(t, sink.records, 1)
	assert.Equal(t, schema.FunctionUid{Module: 1, Function: 1}, sink.records[0].Uid)
	assert.Equal(t, [][]byte{{0xAA, 0xBB, 0xCC, 0xDD}}, sink.records[0].Args)
	assert.True(t, p.IsEmpty(state))
}

func TestCapturesNoArgFunction(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	payload := append(le32(1), le32(3)...)
	state = drive(t, p, state, mm, payload)

	require.Len(t, sink.records, 1)
	assert.Empty(t, sink.records[0].Args)
	assert.True(t, p.IsEmpty(state))
}

func TestCStringArgumentConsumesTrailingZero(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	payload := append(append(le32(1), le32(2)...), []byte("hi\x00")...)
	state = drive(t, p, state, mm, payload)

	require.Len(t, sink.records, 1)
	assert.Equal(t, [][]byte{[]byte("hi\x00")}, sink.records[0].Args)
}

func TestArgumentSpansBufferBoundary(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	first := append(le32(1), le32(1)...)
	first = append(first, 0xAA, 0xBB)
	state = drive(t, p, state, mm, first)
	assert.False(t, p.IsEmpty(state), "2 of 4 fixed bytes captured, packet still in flight")
	assert.Empty(t, sink.records)

	state = drive(t, p, state, mm, []byte{0xCC, 0xDD})
	require.Len(t, sink.records, 1)
	assert.Equal(t, [][]byte{{0xAA, 0xBB, 0xCC, 0xDD}}, sink.records[0].Args)
	assert.True(t, p.IsEmpty(state))
}

func TestFixedZeroStillResetsBetweenArguments(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	payload := append(append(le32(1), le32(4)...), []byte{0x11, 0x22}...)
	state = drive(t, p, state, mm, payload)

	require.Len(t, sink.records, 1)
	assert.Equal(t, [][]byte{{}, {0x11, 0x22}}, sink.records[0].Args)
}

func TestMultiplePacketsInOneBufferAllCommitAtFinalize(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	pkt1 := append(le32(1), le32(3)...)
	pkt2 := append(le32(1), le32(3)...)
	state = drive(t, p, state, mm, append(pkt1, pkt2...))

	assert.Len(t, sink.records, 2)
}

func TestUnknownFunctionIsFatal(t *testing.T) {
	mm := buildModuleMap(t)
	sink := &memSink{}
	p := New(sink)
	state := p.Default()

	view := bufview.New(append(le32(1), le32(99)...))
	var err error
	state, view, err = p.Update(state, view, mm)
	require.NoError(t, err)
	_, _, err = p.Update(state, view, mm)
	require.Error(t, err)
	assert.True(t, schema.IsProtocolError(err), "unknown function id must categorize as a protocol error")
	assert.False(t, schema.IsNotFound(err), "argument capture must not surface the lookup's raw not-found category")
}

func TestEndMarkerOnlyValidWhenEmpty(t *testing.T) {
	p := New(&memSink{})
	state := p.Default()
	assert.True(t, p.IsEmpty(state))

	state.ph = phaseGotModuleId
	assert.False(t, p.IsEmpty(state))
}
