// Package constants centralizes the default geometry, timing, and
// resource-name templates shared across the transport, capture loop,
// and orchestrator.
package constants

import "time"

// Ring geometry defaults (spec §6 CLI summary: --buff-count/--buff-size).
const (
	// DefaultBufferCount is the default number of buffers (N) in the ring.
	DefaultBufferCount = 64

	// DefaultBufferSize is the default size (S) of one ring buffer in
	// bytes. Must be >= MinBufferSize and a multiple of BufferSizeAlign.
	DefaultBufferSize = 64 * 1024

	// MinBufferSize is the smallest legal buffer size (spec §3: S >= 8).
	MinBufferSize = 8

	// BufferSizeAlign is the required buffer size divisor (spec §3: S
	// divisible by 4).
	BufferSizeAlign = 4

	// LengthFieldSize is the width, in bytes, of each buffer's leading
	// valid-size field.
	LengthFieldSize = 4
)

// Resource name templates (spec §6).
const (
	FreeSemaphoreSuffix  = "-capture-base-semfree"
	FullSemaphoreSuffix  = "-capture-base-semfull"
	RingShmSuffix        = "-capture-base-buffmem"
	MetadataShmName      = "callcap-capture-base-metamem"
	MetadataReadySemName = "callcap-capture-base-semdataready"
	MetadataAckSemName   = "callcap-capture-base-semdataack"
	TestServerSocketFmt  = "/tmp/%s-test-server"
)

// Timing constants governing bounded waits on supervisor-local signals
// (spec §5: "no internal timeouts on data paths"; these only bound
// signals local to the supervisor, never a wait on a semaphore shared
// with the target).
const (
	// ReadySignalTimeout bounds how long the test stage waits for the
	// replay server to report readiness. The child monitor has no
	// readiness signal, and nothing waits on one.
	ReadySignalTimeout = 10 * time.Second

	// AcceptPollInterval is the replay server's accept-loop polling
	// timeout so it can observe a shutdown signal between accepts.
	AcceptPollInterval = 100 * time.Millisecond

	// ClientReadPollInterval is the per-client read polling timeout,
	// allowing the server to drain connections during shutdown.
	ClientReadPollInterval = 100 * time.Millisecond

	// ChildMonitorPollInterval is how often the child monitor checks
	// whether the target process has exited.
	ChildMonitorPollInterval = 300 * time.Millisecond
)

// Dumper write-buffer sizing (spec §4.9).
const (
	// MinModuleWriteBuffer is the floor applied to a module's per-writer
	// share of the dumper's total memory budget.
	MinModuleWriteBuffer = 8 * 1024
)

// Wire-format constants (spec §3).
const (
	// ArgSpecCStringTag is the 16-bit wire tag for the CString argument kind.
	ArgSpecCStringTag = 1026
	// ArgSpecCustomTag is the 16-bit wire tag for the Custom argument kind.
	ArgSpecCustomTag = 1027
	// MaxFixedArgSize is the largest legal Fixed(n) argument size.
	MaxFixedArgSize = 16
)

// Replay protocol constants (spec §4.10).
const (
	RequestFrameSize  = 16
	RequestTagSize    = 2
	RequestPayloadLen = RequestFrameSize - RequestTagSize
)
