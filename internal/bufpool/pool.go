// Package bufpool provides pooled byte slices for the packet dumper's
// per-module write buffers, avoiding hot-path allocations while a
// capture-args run is draining many buffers per second.
//
// Uses size-bucketed pools with power-of-2 sizes (8KB, 16KB, 32KB, 64KB,
// 128KB) so a module's buffered writer (sized per spec §4.9's
// max(memory_limit/module_count, 8KiB) rule) draws from a bucket close
// to its configured budget instead of allocating one buffer per module.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.
package bufpool

import "sync"

// Buffer size thresholds.
const (
	size8k   = 8 * 1024
	size16k  = 16 * 1024
	size32k  = 32 * 1024
	size64k  = 64 * 1024
	size128k = 128 * 1024
)

// globalPool is the shared buffer pool for all packet writers.
var globalPool = struct {
	pool8k   sync.Pool
	pool16k  sync.Pool
	pool32k  sync.Pool
	pool64k  sync.Pool
	pool128k sync.Pool
}{
	pool8k:   sync.Pool{New: func() any { b := make([]byte, size8k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool32k:  sync.Pool{New: func() any { b := make([]byte, size32k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
}

// Get returns a pooled buffer of at least the requested size.
// Requests above 128KB get a fresh allocation, which Put drops.
// Caller must call Put when done.
func Get(size int) []byte {
	switch {
	case size <= size8k:
		return (*globalPool.pool8k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*globalPool.pool16k.Get().(*[]byte))[:size]
	case size <= size32k:
		return (*globalPool.pool32k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer to the pool. The buffer's capacity determines
// which pool it goes to; buffers with a non-standard capacity are
// dropped rather than pooled.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size8k:
		globalPool.pool8k.Put(&buf)
	case size16k:
		globalPool.pool16k.Put(&buf)
	case size32k:
		globalPool.pool32k.Put(&buf)
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size128k:
		globalPool.pool128k.Put(&buf)
	}
}
