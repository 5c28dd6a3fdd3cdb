// Command callcap drives a compiler-instrumented target application
// through the trace-calls, capture-args, and test stages described by
// spec §6's external-interface summary. Flag layout and lifecycle
// handling follow cmd/ublk-mem/main.go's shape: parse flags, build and
// run the thing, handle Ctrl+C by attempting cleanup before exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/abrandt/callcap"
	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/logging"
	"github.com/abrandt/callcap/internal/modulemap"
	"github.com/abrandt/callcap/internal/orchestrator"
	"github.com/abrandt/callcap/internal/packets"
	"github.com/abrandt/callcap/internal/replay"
	"github.com/abrandt/callcap/internal/selection"
)

func main() {
	global := flag.NewFlagSet("callcap", flag.ExitOnError)
	moduleMapDir := global.String("module-map", "", "directory of per-module YAML files (required unless --cleanup)")
	prefix := global.String("prefix", "callcap", "resource-name prefix for semaphores, shared memory, and the test socket")
	buffCount := global.Int("buff-count", constants.DefaultBufferCount, "number of ring buffers")
	buffSize := global.Int("buff-size", constants.DefaultBufferSize, "size in bytes of one ring buffer")
	verbose := global.Bool("v", false, "verbose (debug) logging")
	cleanup := global.Bool("cleanup", false, "unlink all named resources for --prefix and exit")
	global.Parse(os.Args[1:])

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logConfig))
	logger := logging.Default()

	if *cleanup {
		if err := orchestrator.Cleanup(*prefix); err != nil {
			logger.Error("cleanup failed", "prefix", *prefix, "error", err)
			os.Exit(1)
		}
		logger.Info("cleanup complete", "prefix", *prefix)
		return
	}

	args := global.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: callcap --module-map DIR [flags] <trace-calls|capture-args|test> [subcommand flags] -- target-binary [args...]")
		os.Exit(1)
	}
	if *moduleMapDir == "" {
		logger.Error("missing required flag", "flag", "--module-map")
		os.Exit(1)
	}

	rawMap, err := modulemap.Load(*moduleMapDir)
	if err != nil {
		logger.Error("failed to load module map", "dir", *moduleMapDir, "error", err)
		os.Exit(1)
	}
	mm := callcap.WrapModuleMap(rawMap)

	sub, rest := args[0], args[1:]
	subFlags, target := splitTargetCommand(rest)

	var runErr error
	switch sub {
	case "trace-calls":
		runErr = runTraceCalls(*prefix, *buffCount, *buffSize, mm, target, subFlags)
	case "capture-args":
		runErr = runCaptureArgs(*prefix, *buffCount, *buffSize, mm, target, subFlags)
	case "test":
		runErr = runTest(*prefix, *buffCount, *buffSize, mm, target, subFlags)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		os.Exit(1)
	}
	if runErr != nil {
		logger.Error("stage failed", "stage", sub, "error", runErr)
		fmt.Fprintf(os.Stderr, "%s: %v\n", sub, runErr)
		os.Exit(1)
	}
}

// splitTargetCommand separates a subcommand's own flags from the
// target binary invocation that follows a bare "--" separator.
func splitTargetCommand(args []string) (subFlags []string, target callcap.Target) {
	for i, a := range args {
		if a == "--" {
			subFlags = args[:i]
			if i+1 < len(args) {
				target = callcap.Target{Command: args[i+1], Args: args[i+2:]}
			}
			return subFlags, target
		}
	}
	return args, callcap.Target{}
}

// watchForInterrupt cleans up a session's named resources if the
// operator hits Ctrl+C while a stage is blocked waiting on the target
// (spec §7: "the operator may need to run --cleanup to reclaim leaked
// kernel resources" — this does that automatically on the common
// interrupt path instead of requiring a second invocation).
func watchForInterrupt(session *callcap.Session) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Default().Warn("received interrupt, cleaning up named resources")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Stop(ctx); err != nil {
			logging.Default().Error("cleanup after interrupt failed", "error", err)
		}
		os.Exit(130)
	}()
}

func runTraceCalls(prefix string, buffCount, buffSize int, mm *callcap.ModuleMap, target callcap.Target, rawFlags []string) error {
	fs := flag.NewFlagSet("trace-calls", flag.ExitOnError)
	selectOut := fs.String("select-out", "", "write a selection file naming every function that was called")
	traceOut := fs.String("trace-out", "", "write a trace file with per-function call counts")
	fs.Parse(rawFlags)

	session := callcap.NewSession(prefix, buffCount, buffSize, mm, target)
	watchForInterrupt(session)

	entries, err := session.TraceCalls()
	if err != nil {
		return err
	}

	logging.Default().Info("trace-calls complete", "functions_seen", len(entries))
	for _, e := range entries {
		fmt.Printf("%d %d-%d\n", e.Count, e.Uid.Module, e.Uid.Function)
	}

	if *traceOut != "" {
		if err := writeFile(*traceOut, func(f *os.File) error {
			return selection.ExportTrace(f, entries)
		}); err != nil {
			return fmt.Errorf("write trace file: %w", err)
		}
	}
	if *selectOut != "" {
		uids := make([]callcap.FunctionUid, len(entries))
		for i, e := range entries {
			uids[i] = e.Uid
		}
		if err := writeFile(*selectOut, func(f *os.File) error {
			return selection.ExportSelection(f, mm.ModuleMap, uids)
		}); err != nil {
			return fmt.Errorf("write selection file: %w", err)
		}
	}
	return nil
}

func runCaptureArgs(prefix string, buffCount, buffSize int, mm *callcap.ModuleMap, target callcap.Target, rawFlags []string) error {
	fs := flag.NewFlagSet("capture-args", flag.ExitOnError)
	selectIn := fs.String("select-in", "", "selection file naming which functions to capture (required)")
	out := fs.String("out", "", "output directory for captured packet files (required)")
	memoryLimit := fs.Int("memory-limit", 16*1024*1024, "total write-buffer budget across all captured functions, in bytes")
	fs.Parse(rawFlags)

	if *selectIn == "" || *out == "" {
		return fmt.Errorf("capture-args requires --select-in and --out")
	}

	masked, err := maskToSelection(mm, *selectIn)
	if err != nil {
		return err
	}

	dumper, err := packets.NewDumper(*out, masked.ModuleMap, *memoryLimit)
	if err != nil {
		return fmt.Errorf("create dumper: %w", err)
	}
	defer func() {
		if err := dumper.Close(); err != nil {
			logging.Default().Error("failed to close dumper", "error", err)
		}
	}()

	session := callcap.NewSession(prefix, buffCount, buffSize, masked, target)
	watchForInterrupt(session)

	if err := session.CaptureArgs(dumper.Dump); err != nil {
		return err
	}
	snap := session.MetricsSnapshot()
	logging.Default().Info("capture-args complete", "packets_dumped", snap.PacketsDumped)
	return nil
}

func runTest(prefix string, buffCount, buffSize int, mm *callcap.ModuleMap, target callcap.Target, rawFlags []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	selectIn := fs.String("select-in", "", "selection file naming which functions to test (required)")
	packetsDir := fs.String("packets", "", "directory of captured packet files from capture-args (required)")
	fs.Parse(rawFlags)

	if *selectIn == "" || *packetsDir == "" {
		return fmt.Errorf("test requires --select-in and --packets")
	}

	masked, err := maskToSelection(mm, *selectIn)
	if err != nil {
		return err
	}

	sources := make(map[callcap.FunctionUid]replay.PacketSource)
	var cases []orchestrator.TestCase
	var readers []*packets.Reader
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()

	for uid := range allFunctionUids(masked) {
		reader, err := packets.NewReader(*packetsDir, uid, masked.ModuleMap)
		if err != nil {
			return fmt.Errorf("open packet reader for %s: %w", uid, err)
		}
		readers = append(readers, reader)
		sources[uid] = reader
		for i := 0; i < reader.PacketCount(); i++ {
			cases = append(cases, orchestrator.TestCase{Uid: uid, TestIndex: uint64(i)})
		}
	}

	session := callcap.NewSession(prefix, buffCount, buffSize, masked, target)
	watchForInterrupt(session)

	results, err := session.Test(sources, cases)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Printf("%d-%d test_index=%d status_tag=%d status_code=%d\n", r.Uid.Module, r.Uid.Function, r.TestIndex, r.Status.Tag, r.Status.Code)
	}
	logging.Default().Info("test complete", "cases", len(cases), "results", len(results))
	return nil
}

// maskToSelection loads a selection file and restricts mm to the
// functions it names (spec §4.11's "mask module map to selection").
func maskToSelection(mm *callcap.ModuleMap, selectionPath string) (*callcap.ModuleMap, error) {
	f, err := os.Open(selectionPath)
	if err != nil {
		return nil, fmt.Errorf("open selection file: %w", err)
	}
	defer f.Close()

	textUids, err := selection.ImportSelection(f)
	if err != nil {
		return nil, fmt.Errorf("parse selection file: %w", err)
	}
	return mm.Mask(textUids), nil
}

// allFunctionUids enumerates every FunctionUid across every module in
// mm. The result is a set and carries no order.
func allFunctionUids(mm *callcap.ModuleMap) map[callcap.FunctionUid]struct{} {
	out := make(map[callcap.FunctionUid]struct{})
	for _, modId := range mm.ModuleMap.ModuleIds() {
		entry, ok := mm.ModuleMap.Module(modId)
		if !ok {
			continue
		}
		for fnId := range entry.ById {
			out[callcap.FunctionUid{Module: modId, Function: fnId}] = struct{}{}
		}
	}
	return out
}

func writeFile(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return write(f)
}
