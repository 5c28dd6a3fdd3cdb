// Package callcap drives a compiler-instrumented target application
// through three cooperating stages — call tracing, argument capture, and
// replay testing — communicating over POSIX named semaphores and POSIX
// shared memory (spec §1).
package callcap

import "github.com/abrandt/callcap/internal/schema"

// The module-map data model lives in internal/schema so that capture,
// tracer, argcapture, packets, replay, and orchestrator can depend on
// it without importing this package, which itself depends on
// internal/orchestrator for Session and would otherwise form an import
// cycle. ModuleMap and ModuleEntry wrap schema's types here so their
// error-returning methods can fold schema's local error type into this
// package's *Error; the remaining types are plain aliases.
type (
	ModuleId     = schema.ModuleId
	FunctionId   = schema.FunctionId
	FunctionUid  = schema.FunctionUid
	TextUid      = schema.TextUid
	ArgumentKind = schema.ArgumentKind
	ArgumentSpec = schema.ArgumentSpec

	FunctionEntry = schema.FunctionEntry
)

const (
	KindFixed   = schema.KindFixed
	KindCString = schema.KindCString
	KindCustom  = schema.KindCustom
)

// Fixed constructs a Fixed(n) argument spec.
func Fixed(n int) ArgumentSpec { return schema.Fixed(n) }

// CStringArg constructs a CString argument spec.
func CStringArg() ArgumentSpec { return schema.CStringArg() }

// CustomArg constructs a Custom (length-prefixed) argument spec.
func CustomArg() ArgumentSpec { return schema.CustomArg() }

// ArgumentSpecFromWireTag decodes the 16-bit wire tag back into an
// ArgumentSpec, returning a CodeProtocolError *Error for out-of-range values.
func ArgumentSpecFromWireTag(tag uint16) (ArgumentSpec, error) {
	spec, err := schema.ArgumentSpecFromWireTag(tag)
	if err != nil {
		return spec, WithContext("argument_spec_from_wire_tag", err)
	}
	return spec, nil
}

// ModuleEntry is one module's metadata: its path and the functions it
// exports, keyed both by id and by name for the bijection invariant.
type ModuleEntry struct {
	*schema.ModuleEntry
}

// AddFunction registers a function within an already-added module,
// enforcing the unique-id and name<->id bijection invariants (spec §3).
func (me *ModuleEntry) AddFunction(id FunctionId, name string, args []ArgumentSpec) error {
	if err := me.ModuleEntry.AddFunction(id, name, args); err != nil {
		return WithContext("add_function", err)
	}
	return nil
}

// ModuleMap is the full ModuleId -> ModuleEntry mapping loaded before
// any stage runs (spec §3).
type ModuleMap struct {
	*schema.ModuleMap
}

// NewModuleMap constructs an empty map ready for AddModule calls.
func NewModuleMap() *ModuleMap {
	return &ModuleMap{schema.NewModuleMap()}
}

// WrapModuleMap adapts a *schema.ModuleMap — e.g. one returned by
// internal/modulemap.Load — into the root ModuleMap wrapper, so
// callers outside this package's internal tree (the CLI) can hand a
// loaded map to a Session without depending on internal/schema
// themselves.
func WrapModuleMap(m *schema.ModuleMap) *ModuleMap {
	return &ModuleMap{m}
}

// AddModule registers a module, failing with CodeConfigError if the id
// is already present (spec §3: each ModuleId unique).
func (mm *ModuleMap) AddModule(id ModuleId, path string) (*ModuleEntry, error) {
	entry, err := mm.ModuleMap.AddModule(id, path)
	if err != nil {
		return nil, WithContext("add_module", err)
	}
	return &ModuleEntry{entry}, nil
}

// Module looks up a module by id.
func (mm *ModuleMap) Module(id ModuleId) (*ModuleEntry, bool) {
	entry, ok := mm.ModuleMap.Module(id)
	if !ok {
		return nil, false
	}
	return &ModuleEntry{entry}, true
}

// Function looks up a function by FunctionUid.
func (mm *ModuleMap) Function(uid FunctionUid) (*FunctionEntry, error) {
	fn, err := mm.ModuleMap.Function(uid)
	if err != nil {
		return nil, WithContext("function", err)
	}
	return fn, nil
}

// ArgumentSpecs returns the argument list for a FunctionUid, or
// CodeNotFound if the module or function is absent.
func (mm *ModuleMap) ArgumentSpecs(uid FunctionUid) ([]ArgumentSpec, error) {
	specs, err := mm.ModuleMap.ArgumentSpecs(uid)
	if err != nil {
		return nil, WithContext("argument_specs", err)
	}
	return specs, nil
}

// TextUid resolves a FunctionUid to its human-readable counterpart.
func (mm *ModuleMap) TextUid(uid FunctionUid) (TextUid, error) {
	text, err := mm.ModuleMap.TextUid(uid)
	if err != nil {
		return TextUid{}, WithContext("text_uid", err)
	}
	return text, nil
}

// Mask restricts the map to the supplied set of TextUids, dropping
// modules that become empty (spec §3's masking operation).
func (mm *ModuleMap) Mask(selection map[TextUid]struct{}) *ModuleMap {
	return &ModuleMap{mm.ModuleMap.Mask(selection)}
}
