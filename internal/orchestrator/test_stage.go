package orchestrator

import (
	"fmt"
	"os"
	"time"

	"github.com/abrandt/callcap/internal/constants"
	"github.com/abrandt/callcap/internal/ipc"
	"github.com/abrandt/callcap/internal/logging"
	"github.com/abrandt/callcap/internal/replay"
	"github.com/abrandt/callcap/internal/schema"
	"github.com/abrandt/callcap/internal/transport"
)

// TestCase is one (function, packet-index) pair the test stage feeds
// back to the target.
type TestCase struct {
	Uid       schema.FunctionUid
	TestIndex uint64
}

// RunTest drives the replay-testing stage (spec §4.11 "Test"): spawn
// the replay server, register one PacketSource per selected function,
// and for each test case publish mode=2 metadata naming the target
// call to replay (skipping the first instrumented call, per
// target-call = test_index + 2), spawn the target, wait for it to
// exit, and move to the next case. Once every case has run, stop the
// server and return its recorded results.
func RunTest(prefix string, sources map[schema.FunctionUid]replay.PacketSource, cases []TestCase, target Target) ([]replay.TestResult, error) {
	server, err := replay.NewServer(prefix)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: test: start replay server: %w", err)
	}
	for uid, src := range sources {
		server.RegisterSource(uid, src)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	select {
	case <-server.Ready():
	case err := <-serveErr:
		return nil, fmt.Errorf("orchestrator: test: replay server exited before ready: %w", err)
	case <-time.After(constants.ReadySignalTimeout):
		server.Stop()
		<-serveErr
		return nil, fmt.Errorf("orchestrator: test: replay server not ready after %s", constants.ReadySignalTimeout)
	}

	for _, tc := range cases {
		if err := runOneTest(prefix, tc, target); err != nil {
			server.Stop()
			<-serveErr
			return nil, fmt.Errorf("orchestrator: test: case %s/%d: %w", tc.Uid, tc.TestIndex, err)
		}
	}

	server.Stop()
	<-serveErr
	return server.Results(), nil
}

func runOneTest(prefix string, tc TestCase, target Target) error {
	meta, err := transport.NewMetadataChannel()
	if err != nil {
		return fmt.Errorf("create metadata channel: %w", err)
	}
	defer meta.Deinit()

	cmd, err := target.spawn()
	if err != nil {
		return err
	}

	record := transport.Record{
		Mode:             transport.ModeTest,
		TargetModId:      uint32(tc.Uid.Module),
		TargetFnId:       uint32(tc.Uid.Function),
		TestCount:        1,
		TargetCallNumber: uint32(tc.TestIndex) + 2,
	}
	if err := meta.Publish(record); err != nil {
		return fmt.Errorf("publish metadata: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		logging.Default().Warn("target exited with error during test replay", "uid", tc.Uid.String(), "test_index", tc.TestIndex, "error", err)
	}
	return nil
}

// Cleanup implements the --cleanup CLI flag (spec §6): it opens
// (non-exclusive) and then unlinks every named semaphore and shared
// region for prefix, and removes the test-server socket path. Missing
// resources are warnings, not errors.
func Cleanup(prefix string) error {
	names := []string{
		prefix + constants.FreeSemaphoreSuffix,
		prefix + constants.FullSemaphoreSuffix,
	}
	for _, name := range names {
		unlinkSemaphoreBestEffort(name)
	}
	unlinkSemaphoreBestEffort(constants.MetadataReadySemName)
	unlinkSemaphoreBestEffort(constants.MetadataAckSemName)

	unlinkShmBestEffort(prefix + constants.RingShmSuffix)
	unlinkShmBestEffort(constants.MetadataShmName)

	socketPath := fmt.Sprintf(constants.TestServerSocketFmt, prefix)
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		logging.Default().Warn("cleanup: failed to remove test server socket", "path", socketPath, "error", err)
	}
	return nil
}

// unlinkSemaphoreBestEffort opens an existing named semaphore and
// unlinks it, logging (not failing) if the resource was already gone.
func unlinkSemaphoreBestEffort(name string) {
	sem, err := ipc.OpenExisting(name)
	if err != nil {
		logging.Default().Warn("cleanup: semaphore not found", "name", name, "error", err)
		return
	}
	if err := sem.Unlink(); err != nil {
		logging.Default().Warn("cleanup: failed to unlink semaphore", "name", name, "error", err)
	}
	_ = sem.Close()
}

// unlinkShmBestEffort removes a named shared-memory object's kernel
// name, logging (not failing) if it was already gone.
func unlinkShmBestEffort(name string) {
	if err := ipc.UnlinkShm(name); err != nil && !os.IsNotExist(err) {
		logging.Default().Warn("cleanup: failed to unlink shared memory", "name", name, "error", err)
	}
}
