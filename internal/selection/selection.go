// Package selection implements the persisted selection and trace text
// file formats (spec §6): the human-editable record of which functions
// an operator chose to capture, and the raw call-frequency dump from
// the trace-calls stage. Grounded on the teacher's plain-text sysfs
// parsing style (internal/uapi's small line-oriented parsers) rather
// than any external encoding, since spec §6 nails down the exact
// byte-for-byte text layout itself.
package selection

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/abrandt/callcap/internal/schema"
)

// ExportSelection writes one NUL-delimited record per uid, in the
// order given: "module-path\x00module-id-decimal\x00function-name\x00
// function-id-decimal\n" (spec §6's "Persisted selection file").
func ExportSelection(w io.Writer, mm *schema.ModuleMap, uids []schema.FunctionUid) error {
	bw := bufio.NewWriter(w)
	for _, uid := range uids {
		text, err := mm.TextUid(uid)
		if err != nil {
			return fmt.Errorf("selection: export %s: %w", uid, err)
		}
		line := fmt.Sprintf("%s\x00%d\x00%s\x00%d\n", text.ModulePath, uid.Module, text.FunctionName, uid.Function)
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("selection: write: %w", err)
		}
	}
	return bw.Flush()
}

// ImportSelection parses a selection file back into the set of
// TextUids it names, suitable for schema.ModuleMap.Mask. The numeric
// module/function ids are parsed and validated but not otherwise used;
// the TextUid pair is the cross-run-stable identity (spec §9: ids may
// be reassigned by the compiler between builds, names are not).
func ImportSelection(r io.Reader) (map[schema.TextUid]struct{}, error) {
	out := make(map[schema.TextUid]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) <= 1 {
			continue
		}
		fields := strings.Split(line, "\x00")
		if len(fields) != 4 {
			return nil, fmt.Errorf("selection: malformed line %q: want 4 NUL-delimited fields", line)
		}
		if _, err := strconv.ParseUint(fields[1], 10, 32); err != nil {
			return nil, fmt.Errorf("selection: malformed module id in %q: %w", line, err)
		}
		if _, err := strconv.ParseUint(fields[3], 10, 32); err != nil {
			return nil, fmt.Errorf("selection: malformed function id in %q: %w", line, err)
		}
		out[schema.TextUid{ModulePath: fields[0], FunctionName: fields[2]}] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("selection: scan: %w", err)
	}
	return out, nil
}
