package callcap

import "github.com/abrandt/callcap/internal/fake"

// NewFakeModuleMap builds a small, already-valid ModuleMap (one
// module, two functions covering a Fixed and a CString argument) for
// tests that need a stand-in map without parsing a real YAML module
// directory (internal/modulemap's loader). Mirrors teacher's
// NewMockBackend: a ready-made minimal double rather than a builder
// API.
func NewFakeModuleMap() *ModuleMap {
	mm := NewModuleMap()
	entry, err := mm.AddModule(1, "/fake/module.so")
	if err != nil {
		panic(err) // unreachable: fixed id 1 into a freshly-constructed map
	}
	if err := entry.AddFunction(1, "fake::one(int)", []ArgumentSpec{Fixed(4)}); err != nil {
		panic(err)
	}
	if err := entry.AddFunction(2, "fake::two(char const*)", []ArgumentSpec{CStringArg()}); err != nil {
		panic(err)
	}
	return mm
}

// LoopbackTransport bundles a fake ring and metadata channel so a test
// can drive a capture loop (fake.Ring satisfies capture.Source) end to
// end without real named semaphores or shared memory. The
// orchestrator's stage drivers create their own POSIX transport and do
// not accept it.
type LoopbackTransport struct {
	Ring     *fake.Ring
	Metadata *fake.MetadataChannel
}

// NewLoopbackTransport constructs a LoopbackTransport sized for
// buffCount in-flight buffers (the same geometry a real
// internal/transport.Ring would be given), wrapping internal/fake.
func NewLoopbackTransport(buffCount int) *LoopbackTransport {
	return &LoopbackTransport{
		Ring:     fake.NewRing(buffCount),
		Metadata: fake.NewMetadataChannel(),
	}
}

// Close tears down both the ring and the metadata channel.
func (t *LoopbackTransport) Close() {
	t.Ring.Close()
	_ = t.Metadata.Deinit()
}
