package packets

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/logging"
	"github.com/abrandt/callcap/internal/schema"
)

// Dumper fans committed argument-capture records out to one
// length-prefixed file per (module, function), laid out as
// <root>/<module-hex>/<function-hex> (spec §4.9). It implements
// argcapture.Sink's shape (a Commit-like Dump method) without
// importing internal/argcapture, so the orchestrator adapts between
// the two with a small closure.
type Dumper struct {
	root string
	mm   *schema.ModuleMap

	mu      sync.Mutex
	writers map[schema.FunctionUid]*fileWriter
	budget  map[schema.ModuleId]int // per-function buffer size within that module
}

// NewDumper constructs a Dumper writing under root, sizing each
// function's write buffer from memoryLimit shared across mm's modules
// (spec §4.9: max(memory_limit/module_count, 8 KiB) per module, split
// evenly across that module's functions).
func NewDumper(root string, mm *schema.ModuleMap, memoryLimit int) (*Dumper, error) {
	ids := mm.ModuleIds()
	moduleCount := len(ids)
	if moduleCount == 0 {
		return nil, fmt.Errorf("packets: module map has no modules")
	}
	moduleBudget := memoryLimit / moduleCount
	if moduleBudget < constants.MinModuleWriteBuffer {
		moduleBudget = constants.MinModuleWriteBuffer
	}

	budget := make(map[schema.ModuleId]int, moduleCount)
	for _, id := range ids {
		mod, _ := mm.Module(id)
		fnCount := len(mod.ById)
		if fnCount == 0 {
			fnCount = 1
		}
		per := moduleBudget / fnCount
		if per < constants.MinModuleWriteBuffer {
			per = constants.MinModuleWriteBuffer
		}
		budget[id] = per
	}

	return &Dumper{
		root:    root,
		mm:      mm,
		writers: make(map[schema.FunctionUid]*fileWriter),
		budget:  budget,
	}, nil
}

// Dump appends payload to uid's packet file, creating its
// module directory and file on first use.
func (d *Dumper) Dump(uid schema.FunctionUid, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.writers[uid]
	if !ok {
		if _, err := d.mm.TextUid(uid); err != nil {
			logging.Default().Debug("dumping record for unselected function", "uid", uid.String())
		}
		var err error
		w, err = d.openWriter(uid)
		if err != nil {
			return fmt.Errorf("packets: dump %s: %w", uid, err)
		}
		d.writers[uid] = w
	}
	if err := w.dump(payload); err != nil {
		return fmt.Errorf("packets: dump %s: %w", uid, err)
	}
	return nil
}

func (d *Dumper) openWriter(uid schema.FunctionUid) (*fileWriter, error) {
	dir := filepath.Join(d.root, uid.Module.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, uid.Function.String())
	return newFileWriter(path, d.budget[uid.Module])
}

// Close flushes and closes every writer opened so far.
func (d *Dumper) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for uid, w := range d.writers {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("packets: close %s: %w", uid, err)
		}
	}
	d.writers = make(map[schema.FunctionUid]*fileWriter)
	return firstErr
}

// Path returns the on-disk path a (module, function) pair's packet
// file lives at under root, for readers constructed independently of
// the dumper that wrote them.
func Path(root string, uid schema.FunctionUid) string {
	return filepath.Join(root, uid.Module.String(), uid.Function.String())
}
