// Package modulemap loads a callcap ModuleMap from a directory of
// per-module YAML files (SPEC_FULL.md §5), one document per module
// named <module-id-hex>.yaml. Grounded on bobbydeveaux-starbucks-mugs's
// gopkg.in/yaml.v3 config-loading idiom (already an indirect dependency
// of the teacher's own go.mod), with invariant enforcement delegated to
// internal/schema.ModuleMap so a malformed directory fails the same way
// a malformed in-memory construction would.
package modulemap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abrandt/callcap/internal/schema"
)

// argumentDoc is one entry in a function's args list. Exactly one of
// Fixed, CString, or Custom should be set (SPEC_FULL.md §5).
type argumentDoc struct {
	Fixed   *int  `yaml:"fixed"`
	CString *bool `yaml:"cstring"`
	Custom  *bool `yaml:"custom"`
}

func (a argumentDoc) toSpec() (schema.ArgumentSpec, error) {
	switch {
	case a.Fixed != nil:
		return schema.Fixed(*a.Fixed), nil
	case a.CString != nil && *a.CString:
		return schema.CStringArg(), nil
	case a.Custom != nil && *a.Custom:
		return schema.CustomArg(), nil
	default:
		return schema.ArgumentSpec{}, fmt.Errorf("modulemap: argument entry has none of fixed/cstring/custom set")
	}
}

type functionDoc struct {
	Id   uint32        `yaml:"id"`
	Name string        `yaml:"name"`
	Args []argumentDoc `yaml:"args"`
}

type moduleDoc struct {
	ModulePath string        `yaml:"module_path"`
	Functions  []functionDoc `yaml:"functions"`
}

// Load walks dir for *.yaml files, parsing each as one module and
// assembling a schema.ModuleMap. The module id is taken from the
// filename (<hex>.yaml), not from the document body; a renamed file
// therefore loads under the id its new name encodes, and nothing in the
// body is checked against that id.
func Load(dir string) (*schema.ModuleMap, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("modulemap: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	mm := schema.NewModuleMap()
	for _, name := range names {
		if err := loadOne(mm, dir, name); err != nil {
			return nil, err
		}
	}
	return mm, nil
}

func loadOne(mm *schema.ModuleMap, dir, name string) error {
	id, err := moduleIdFromFilename(name)
	if err != nil {
		return fmt.Errorf("modulemap: %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("modulemap: read %s: %w", path, err)
	}

	var doc moduleDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("modulemap: parse %s: %w", path, err)
	}

	mod, err := mm.AddModule(id, doc.ModulePath)
	if err != nil {
		return fmt.Errorf("modulemap: %s: %w", path, err)
	}

	for _, fn := range doc.Functions {
		specs := make([]schema.ArgumentSpec, 0, len(fn.Args))
		for i, a := range fn.Args {
			spec, err := a.toSpec()
			if err != nil {
				return fmt.Errorf("modulemap: %s: function %q arg %d: %w", path, fn.Name, i, err)
			}
			specs = append(specs, spec)
		}
		if err := mod.AddFunction(schema.FunctionId(fn.Id), fn.Name, specs); err != nil {
			return fmt.Errorf("modulemap: %s: %w", path, err)
		}
	}
	return nil
}

func moduleIdFromFilename(name string) (schema.ModuleId, error) {
	stem := strings.TrimSuffix(name, ".yaml")
	v, err := strconv.ParseUint(stem, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("filename %q is not an 8-digit hex module id: %w", name, err)
	}
	return schema.ModuleId(v), nil
}
