package selection

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abrandt/callcap/internal/schema"
	"github.com/abrandt/callcap/internal/tracer"
)

func buildModuleMap(t *testing.T) *schema.ModuleMap {
	t.Helper()
	mm := schema.NewModuleMap()
	mod, err := mm.AddModule(1, "/lib/mod.so")
	require.NoError(t, err)
	require.NoError(t, mod.AddFunction(2, "foo::bar()", nil))
	return mm
}

func TestExportImportSelectionRoundTrip(t *testing.T) {
	mm := buildModuleMap(t)
	uid := schema.FunctionUid{Module: 1, Function: 2}

	var buf bytes.Buffer
	require.NoError(t, ExportSelection(&buf, mm, []schema.FunctionUid{uid}))
	assert.Equal(t, "/lib/mod.so\x001\x00foo::bar()\x002\n", buf.String())

	got, err := ImportSelection(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Contains(t, got, schema.TextUid{ModulePath: "/lib/mod.so", FunctionName: "foo::bar()"})
}

func TestImportSelectionRejectsMalformedLine(t *testing.T) {
	_, err := ImportSelection(strings.NewReader("not-enough-fields\n"))
	assert.Error(t, err)
}

func TestExportImportTraceRoundTrip(t *testing.T) {
	entries := []tracer.FrequencyEntry{
		{Uid: schema.FunctionUid{Module: 1, Function: 2}, Count: 5},
		{Uid: schema.FunctionUid{Module: 1, Function: 3}, Count: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, ExportTrace(&buf, entries))
	assert.Equal(t, "5-1-2\n2-1-3\n", buf.String())

	got, err := ImportTrace(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(5), got[0].Count)
	assert.Equal(t, schema.FunctionUid{Module: 1, Function: 2}, got[0].Uid)
}

func TestImportTraceIgnoresShortLines(t *testing.T) {
	got, err := ImportTrace(strings.NewReader("5-1-2\n\nx\n3-1-4\n"))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
