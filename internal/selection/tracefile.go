package selection

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/abrandt/callcap/internal/schema"
	"github.com/abrandt/callcap/internal/tracer"
)

// ExportTrace writes one "count-module_id-function_id" record per line
// (spec §6's "Persisted trace file"), in entries' given order.
func ExportTrace(w io.Writer, entries []tracer.FrequencyEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		line := fmt.Sprintf("%d-%d-%d\n", e.Count, e.Uid.Module, e.Uid.Function)
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("selection: write trace: %w", err)
		}
	}
	return bw.Flush()
}

// TraceRecord is one parsed trace-file line.
type TraceRecord struct {
	Count uint64
	Uid   schema.FunctionUid
}

// ImportTrace parses a trace file, ignoring lines of length <= 1
// (spec §6's explicit "lines of length ≤ 1 are ignored").
func ImportTrace(r io.Reader) ([]TraceRecord, error) {
	var out []TraceRecord
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) <= 1 {
			continue
		}
		fields := strings.SplitN(line, "-", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("selection: malformed trace line %q", line)
		}
		count, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("selection: malformed count in %q: %w", line, err)
		}
		modId, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("selection: malformed module id in %q: %w", line, err)
		}
		fnId, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("selection: malformed function id in %q: %w", line, err)
		}
		out = append(out, TraceRecord{
			Count: count,
			Uid:   schema.FunctionUid{Module: schema.ModuleId(modId), Function: schema.FunctionId(fnId)},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("selection: scan trace: %w", err)
	}
	return out, nil
}
