package packets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/schema"
)

func buildModuleMap(t *testing.T) *schema.ModuleMap {
	t.Helper()
	mm := schema.NewModuleMap()
	mod, err := mm.AddModule(1, "/lib/mod.so")
	require.NoError(t, err)
	require.NoError(t, mod.AddFunction(1, "fixed4", []schema.ArgumentSpec{schema.Fixed(4)}))
	require.NoError(t, mod.AddFunction(2, "zeroarg", []schema.ArgumentSpec{schema.Fixed(0)}))
	return mm
}

func TestDumperWriterRoundTrip(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	d, err := NewDumper(root, mm, 64*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 1}
	require.NoError(t, d.Dump(uid, []byte{0xAA, 0xBB, 0xCC, 0xDD}))
	require.NoError(t, d.Dump(uid, []byte{0x01, 0x02, 0x03, 0x04}))
	require.NoError(t, d.Close())

	assert.FileExists(t, filepath.Join(root, uid.Module.String(), uid.Function.String()))

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.PacketCount())
	assert.Equal(t, 1, r.ArgCount())

	p0, err := r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, p0)

	p1, err := r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, p1)
}

func TestReaderArgCountExcludesFixedZero(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	d, err := NewDumper(root, mm, 64*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 2}
	require.NoError(t, d.Dump(uid, []byte{}))
	require.NoError(t, d.Close())

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 0, r.ArgCount())
}

func TestReaderResetRewindsToFirstPacket(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	d, err := NewDumper(root, mm, 64*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 1}
	require.NoError(t, d.Dump(uid, []byte{1, 1, 1, 1}))
	require.NoError(t, d.Dump(uid, []byte{2, 2, 2, 2}))
	require.NoError(t, d.Close())

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Position())

	require.NoError(t, r.Reset())
	assert.Equal(t, 0, r.Position())

	p, err := r.NextPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 1}, p)
}

func TestGetPacketSequentialAccess(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	d, err := NewDumper(root, mm, 64*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 1}
	for i := byte(0); i < 3; i++ {
		require.NoError(t, d.Dump(uid, []byte{i, i, i, i}))
	}
	require.NoError(t, d.Close())

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	for i := byte(0); i < 3; i++ {
		p, err := r.GetPacket(int(i))
		require.NoError(t, err)
		assert.Equal(t, []byte{i, i, i, i}, p)
	}
}

func TestGetPacketSkipBackwards(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	d, err := NewDumper(root, mm, 64*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 1}
	for i := byte(0); i < 4; i++ {
		require.NoError(t, d.Dump(uid, []byte{i, i, i, i}))
	}
	require.NoError(t, d.Close())

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	p3, err := r.GetPacket(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 3, 3, 3}, p3)

	p1, err := r.GetPacket(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 1, 1}, p1)
}

func TestGetPacketOutOfRangeWrapsToFirst(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	d, err := NewDumper(root, mm, 64*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 1}
	require.NoError(t, d.Dump(uid, []byte{9, 9, 9, 9}))
	require.NoError(t, d.Dump(uid, []byte{8, 8, 8, 8}))
	require.NoError(t, d.Close())

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	p, err := r.GetPacket(99)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, p, "index >= count wraps to the first packet")
}

func TestDumpWritesSpanningPooledBuffer(t *testing.T) {
	mm := buildModuleMap(t)
	root := t.TempDir()
	// Force a small budget so many Dump calls cross the pooled buffer's
	// flush boundary within one writer.
	d, err := NewDumper(root, mm, 16*1024)
	require.NoError(t, err)

	uid := schema.FunctionUid{Module: 1, Function: 1}
	const n = 4000
	for i := 0; i < n; i++ {
		require.NoError(t, d.Dump(uid, []byte{1, 2, 3, 4}))
	}
	require.NoError(t, d.Close())

	r, err := NewReader(root, uid, mm)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, n, r.PacketCount())
}
