// Package packets implements the packet dumper and reader (spec §4.9):
// per (module, function) length-prefixed packet files under a
// directory-per-module layout, a buffered writer side for
// capture-args, and a pre-scanning reader side for the replay test
// server. Grounded on the teacher's internal/queue buffer-lifecycle
// idiom (explicit Get/flush/Put rather than bufio.Writer), sized via
// internal/bufpool's size-classed pool.
package packets

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/abrandt/callcap/internal/bufpool"
)

// fileWriter buffers writes to one packet file, flushing to disk when
// the pooled buffer fills rather than on every Dump call.
type fileWriter struct {
	f   *os.File
	buf []byte
	n   int
}

func newFileWriter(path string, bufSize int) (*fileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("packets: open %s: %w", path, err)
	}
	return &fileWriter{f: f, buf: bufpool.Get(bufSize)}, nil
}

// dump appends a 4-byte little-endian length followed by payload (spec
// §4.9's wire framing for one packet).
func (w *fileWriter) dump(payload []byte) error {
	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(payload)))
	if err := w.write(lenField[:]); err != nil {
		return err
	}
	return w.write(payload)
}

// write copies data into the pooled buffer, flushing whenever it fills
// (possibly more than once, for a write larger than the whole buffer).
func (w *fileWriter) write(data []byte) error {
	for len(data) > 0 {
		room := len(w.buf) - w.n
		take := room
		if take > len(data) {
			take = len(data)
		}
		copy(w.buf[w.n:], data[:take])
		w.n += take
		data = data[take:]
		if w.n == len(w.buf) {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *fileWriter) flush() error {
	if w.n == 0 {
		return nil
	}
	if _, err := w.f.Write(w.buf[:w.n]); err != nil {
		return fmt.Errorf("packets: write: %w", err)
	}
	w.n = 0
	return nil
}

// close flushes any buffered bytes, closes the file, and returns the
// pooled buffer.
func (w *fileWriter) close() error {
	flushErr := w.flush()
	closeErr := w.f.Close()
	bufpool.Put(w.buf)
	w.buf = nil
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("packets: close: %w", closeErr)
	}
	return nil
}
