// Package schema is the module-map data model shared by every stage:
// identifiers, argument specs, and the ModuleMap itself (spec §3). It
// is a leaf package so the capture loop, parsers, dumper, replay server,
// and orchestrator can all depend on the same types without any of them
// importing the root callcap package (which wraps this package's errors
// with operation context, and would otherwise create an import cycle).
package schema

import (
	"fmt"
	"sort"

	"github.com/abrandt/callcap/internal/constants"
)

// ModuleId identifies a loaded module (spec §3).
type ModuleId uint32

// FunctionId identifies a function within a module (spec §3).
type FunctionId uint32

// String renders the id as 8 hex digits for human-facing output.
func (m ModuleId) String() string { return fmt.Sprintf("%08x", uint32(m)) }

// String renders the id as 8 hex digits for human-facing output.
func (f FunctionId) String() string { return fmt.Sprintf("%08x", uint32(f)) }

// FunctionUid is the ordered pair (ModuleId, FunctionId) that uniquely
// identifies one function across the whole module map.
type FunctionUid struct {
	Module   ModuleId
	Function FunctionId
}

func (u FunctionUid) String() string {
	return fmt.Sprintf("%s:%s", u.Module, u.Function)
}

// Less provides a total order over FunctionUid values, used to sort
// frequency tables deterministically.
func (u FunctionUid) Less(other FunctionUid) bool {
	if u.Module != other.Module {
		return u.Module < other.Module
	}
	return u.Function < other.Function
}

// TextUid is the human-readable counterpart of FunctionUid: a
// (module-path, demangled function name) pair.
type TextUid struct {
	ModulePath   string
	FunctionName string
}

func (u TextUid) String() string {
	return fmt.Sprintf("%s\x00%s", u.ModulePath, u.FunctionName)
}

// ArgumentKind distinguishes the three wire shapes an argument may take
// (spec §3).
type ArgumentKind int

const (
	// KindFixed reads exactly N bytes verbatim.
	KindFixed ArgumentKind = iota
	// KindCString reads until, and including, a zero byte.
	KindCString
	// KindCustom reads an 8-byte little-endian length then that many bytes.
	KindCustom
)

// ArgumentSpec describes how one argument of a function call is framed
// on the wire.
type ArgumentSpec struct {
	Kind      ArgumentKind
	FixedSize int // only meaningful when Kind == KindFixed, 0..16
}

// Fixed constructs a Fixed(n) argument spec.
func Fixed(n int) ArgumentSpec { return ArgumentSpec{Kind: KindFixed, FixedSize: n} }

// CStringArg constructs a CString argument spec.
func CStringArg() ArgumentSpec { return ArgumentSpec{Kind: KindCString} }

// CustomArg constructs a Custom (length-prefixed) argument spec.
func CustomArg() ArgumentSpec { return ArgumentSpec{Kind: KindCustom} }

// Validate checks the spec's invariants (spec §3: Fixed(n) for n in 0..16).
func (a ArgumentSpec) Validate() error {
	if a.Kind == KindFixed && (a.FixedSize < 0 || a.FixedSize > constants.MaxFixedArgSize) {
		return newConfigError("argument_spec", fmt.Sprintf("fixed size %d out of range [0,%d]", a.FixedSize, constants.MaxFixedArgSize))
	}
	return nil
}

// WireTag encodes the spec as the 16-bit wire value defined in spec §3.
func (a ArgumentSpec) WireTag() uint16 {
	switch a.Kind {
	case KindFixed:
		return uint16(a.FixedSize)
	case KindCString:
		return constants.ArgSpecCStringTag
	case KindCustom:
		return constants.ArgSpecCustomTag
	default:
		return 0
	}
}

// ArgumentSpecFromWireTag decodes the 16-bit wire tag back into an
// ArgumentSpec, returning a protocol error for out-of-range values.
func ArgumentSpecFromWireTag(tag uint16) (ArgumentSpec, error) {
	switch {
	case tag <= 15:
		return Fixed(int(tag)), nil
	case tag == constants.ArgSpecCStringTag:
		return CStringArg(), nil
	case tag == constants.ArgSpecCustomTag:
		return CustomArg(), nil
	default:
		return ArgumentSpec{}, newProtocolError("argument_spec_from_wire_tag", fmt.Sprintf("invalid argument wire tag %d", tag))
	}
}

// FunctionEntry pairs a demangled function name with its parsed
// FunctionId and argument list, as loaded from the module map.
type FunctionEntry struct {
	Id   FunctionId
	Name string
	Args []ArgumentSpec
}

// ModuleEntry is one module's metadata: its path and the functions it
// exports, keyed both by id and by name for the bijection invariant.
type ModuleEntry struct {
	Path   string
	ById   map[FunctionId]*FunctionEntry
	ByName map[string]*FunctionEntry
}

// ModuleMap is the full ModuleId -> ModuleEntry mapping loaded before
// any stage runs (spec §3).
type ModuleMap struct {
	modules map[ModuleId]*ModuleEntry
}

// NewModuleMap constructs an empty map ready for AddModule calls.
func NewModuleMap() *ModuleMap {
	return &ModuleMap{modules: make(map[ModuleId]*ModuleEntry)}
}

// AddModule registers a module, failing if the id is already present
// (spec §3: each ModuleId unique).
func (mm *ModuleMap) AddModule(id ModuleId, path string) (*ModuleEntry, error) {
	if _, exists := mm.modules[id]; exists {
		return nil, newConfigError("add_module", fmt.Sprintf("duplicate module id %s", id))
	}
	entry := &ModuleEntry{
		Path:   path,
		ById:   make(map[FunctionId]*FunctionEntry),
		ByName: make(map[string]*FunctionEntry),
	}
	mm.modules[id] = entry
	return entry, nil
}

// AddFunction registers a function within an already-added module,
// enforcing the unique-id and name<->id bijection invariants (spec §3).
func (me *ModuleEntry) AddFunction(id FunctionId, name string, args []ArgumentSpec) error {
	if _, exists := me.ById[id]; exists {
		return newConfigError("add_function", fmt.Sprintf("duplicate function id %s in module %s", id, me.Path))
	}
	if _, exists := me.ByName[name]; exists {
		return newConfigError("add_function", fmt.Sprintf("duplicate function name %q in module %s", name, me.Path))
	}
	for _, a := range args {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	fe := &FunctionEntry{Id: id, Name: name, Args: args}
	me.ById[id] = fe
	me.ByName[name] = fe
	return nil
}

// Module looks up a module by id.
func (mm *ModuleMap) Module(id ModuleId) (*ModuleEntry, bool) {
	e, ok := mm.modules[id]
	return e, ok
}

// ModuleIds returns all module ids, sorted ascending.
func (mm *ModuleMap) ModuleIds() []ModuleId {
	ids := make([]ModuleId, 0, len(mm.modules))
	for id := range mm.modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasModule reports whether id is present, without allocating an error —
// the call-tracing parser's hot path uses this to decide UnknownModule.
func (mm *ModuleMap) HasModule(id ModuleId) bool {
	_, ok := mm.modules[id]
	return ok
}

// Function looks up a function by FunctionUid.
func (mm *ModuleMap) Function(uid FunctionUid) (*FunctionEntry, error) {
	mod, ok := mm.modules[uid.Module]
	if !ok {
		return nil, newNotFoundError("function", fmt.Sprintf("unknown module %s", uid.Module))
	}
	fn, ok := mod.ById[uid.Function]
	if !ok {
		return nil, newNotFoundError("function", fmt.Sprintf("unknown function %s in module %s", uid.Function, uid.Module))
	}
	return fn, nil
}

// ArgumentSpecs returns the argument list for a FunctionUid, or a
// not-found error if the module or function is absent.
func (mm *ModuleMap) ArgumentSpecs(uid FunctionUid) ([]ArgumentSpec, error) {
	fn, err := mm.Function(uid)
	if err != nil {
		return nil, err
	}
	return fn.Args, nil
}

// TextUid resolves a FunctionUid to its human-readable counterpart.
func (mm *ModuleMap) TextUid(uid FunctionUid) (TextUid, error) {
	mod, ok := mm.modules[uid.Module]
	if !ok {
		return TextUid{}, newNotFoundError("text_uid", fmt.Sprintf("unknown module %s", uid.Module))
	}
	fn, ok := mod.ById[uid.Function]
	if !ok {
		return TextUid{}, newNotFoundError("text_uid", fmt.Sprintf("unknown function %s", uid.Function))
	}
	return TextUid{ModulePath: mod.Path, FunctionName: fn.Name}, nil
}

// Mask restricts the map to the supplied set of TextUids, dropping
// modules that become empty (spec §3's masking operation).
func (mm *ModuleMap) Mask(selection map[TextUid]struct{}) *ModuleMap {
	out := NewModuleMap()
	for _, id := range mm.ModuleIds() {
		mod := mm.modules[id]
		var kept []*FunctionEntry
		for _, fn := range mod.ById {
			if _, ok := selection[TextUid{ModulePath: mod.Path, FunctionName: fn.Name}]; ok {
				kept = append(kept, fn)
			}
		}
		if len(kept) == 0 {
			continue
		}
		newMod, _ := out.AddModule(id, mod.Path)
		for _, fn := range kept {
			_ = newMod.AddFunction(fn.Id, fn.Name, fn.Args)
		}
	}
	return out
}

// AllTextUids returns every TextUid currently present in the map.
func (mm *ModuleMap) AllTextUids() []TextUid {
	var out []TextUid
	for _, id := range mm.ModuleIds() {
		mod := mm.modules[id]
		names := make([]string, 0, len(mod.ByName))
		for name := range mod.ByName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, TextUid{ModulePath: mod.Path, FunctionName: name})
		}
	}
	return out
}
