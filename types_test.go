package callcap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentSpecWireRoundTrip(t *testing.T) {
	cases := []ArgumentSpec{Fixed(0), Fixed(4), Fixed(16), CStringArg(), CustomArg()}
	for _, spec := range cases {
		tag := spec.WireTag()
		decoded, err := ArgumentSpecFromWireTag(tag)
		require.NoError(t, err)
		assert.Equal(t, spec, decoded)
	}
}

func TestArgumentSpecFromWireTagInvalid(t *testing.T) {
	_, err := ArgumentSpecFromWireTag(999)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeProtocolError))
}

func TestFixedSizeValidation(t *testing.T) {
	assert.NoError(t, Fixed(16).Validate())
	assert.Error(t, Fixed(17).Validate())
	assert.Error(t, Fixed(-1).Validate())
}

func TestModuleMapBuildAndLookup(t *testing.T) {
	mm := NewModuleMap()
	mod, err := mm.AddModule(1, "/lib/libfoo.so")
	require.NoError(t, err)
	require.NoError(t, mod.AddFunction(2, "foo::bar()", []ArgumentSpec{Fixed(4), CStringArg()}))

	uid := FunctionUid{Module: 1, Function: 2}
	specs, err := mm.ArgumentSpecs(uid)
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	text, err := mm.TextUid(uid)
	require.NoError(t, err)
	assert.Equal(t, TextUid{ModulePath: "/lib/libfoo.so", FunctionName: "foo::bar()"}, text)
}

func TestModuleMapDuplicateModuleId(t *testing.T) {
	mm := NewModuleMap()
	_, err := mm.AddModule(1, "/a")
	require.NoError(t, err)
	_, err = mm.AddModule(1, "/b")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeConfigError))
}

func TestModuleEntryDuplicateFunctionIdAndName(t *testing.T) {
	mm := NewModuleMap()
	mod, err := mm.AddModule(1, "/a")
	require.NoError(t, err)
	require.NoError(t, mod.AddFunction(1, "f1", nil))

	err = mod.AddFunction(1, "f2", nil)
	require.Error(t, err, "duplicate function id must fail")

	err = mod.AddFunction(2, "f1", nil)
	require.Error(t, err, "duplicate function name must fail (bijection)")
}

func TestModuleMapUnknownLookupsAreNotFound(t *testing.T) {
	mm := NewModuleMap()
	_, err := mm.Function(FunctionUid{Module: 99, Function: 1})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestModuleMapMaskDropsEmptyModules(t *testing.T) {
	mm := NewModuleMap()
	mod1, _ := mm.AddModule(1, "/a")
	_ = mod1.AddFunction(1, "keep", nil)
	_ = mod1.AddFunction(2, "drop", nil)
	mod2, _ := mm.AddModule(2, "/b")
	_ = mod2.AddFunction(1, "also-drop", nil)

	selection := map[TextUid]struct{}{
		{ModulePath: "/a", FunctionName: "keep"}: {},
	}
	masked := mm.Mask(selection)

	assert.Equal(t, []ModuleId{1}, masked.ModuleIds())
	_, ok := masked.Module(2)
	assert.False(t, ok, "module with no selected functions must be dropped")

	fn, err := masked.Function(FunctionUid{Module: 1, Function: 1})
	require.NoError(t, err)
	assert.Equal(t, "keep", fn.Name)

	_, err = masked.Function(FunctionUid{Module: 1, Function: 2})
	assert.Error(t, err, "unselected function must not survive masking")
}

func TestFunctionUidOrdering(t *testing.T) {
	a := FunctionUid{Module: 1, Function: 5}
	b := FunctionUid{Module: 1, Function: 6}
	c := FunctionUid{Module: 2, Function: 0}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}
