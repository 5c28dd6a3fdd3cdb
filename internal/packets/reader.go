package packets

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/abrandt/callcap/internal/schema"
)

// Reader serves packets back out of one (module, function) packet file
// for the replay test server (spec §4.9). It pre-scans the file once
// at construction to learn packet_count, then tracks position as
// packets are consumed sequentially.
type Reader struct {
	uid      schema.FunctionUid
	f        *os.File
	count    int
	argCount int
	pos      int
}

// NewReader opens the packet file for uid under root and pre-scans it,
// counting packets and recording uid's non-Fixed(0) argument count
// from mm (spec §4.9's arg_count, "excluding Fixed(0) specs").
func NewReader(root string, uid schema.FunctionUid, mm *schema.ModuleMap) (*Reader, error) {
	path := Path(root, uid)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("packets: open %s: %w", path, err)
	}

	count, err := preScan(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("packets: pre-scan %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("packets: seek %s: %w", path, err)
	}

	specs, err := mm.ArgumentSpecs(uid)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("packets: %w", err)
	}
	argCount := 0
	for _, spec := range specs {
		if spec.Kind == schema.KindFixed && spec.FixedSize == 0 {
			continue
		}
		argCount++
	}

	return &Reader{uid: uid, f: f, count: count, argCount: argCount}, nil
}

// preScan walks every length-prefixed record in f, counting them,
// without retaining the payloads. A length-0 record terminates the
// stream exactly like end-of-file (spec §4.9: "a length of 0 also
// terminates"), so neither it nor anything past it is counted.
func preScan(f *os.File) (int, error) {
	var lenField [4]byte
	count := 0
	for {
		if _, err := io.ReadFull(f, lenField[:]); err != nil {
			if err == io.EOF {
				return count, nil
			}
			return count, err
		}
		n := binary.LittleEndian.Uint32(lenField[:])
		if n == 0 {
			return count, nil
		}
		if _, err := f.Seek(int64(n), io.SeekCurrent); err != nil {
			return count, err
		}
		count++
	}
}

// PacketCount returns the number of packets pre-scanned in the file.
func (r *Reader) PacketCount() int { return r.count }

// ArgCount returns uid's argument count, excluding Fixed(0) specs.
func (r *Reader) ArgCount() int { return r.argCount }

// Position returns the index of the next packet NextPacket will return.
func (r *Reader) Position() int { return r.pos }

// Reset rewinds the reader to the first packet.
func (r *Reader) Reset() error {
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("packets: reset: %w", err)
	}
	r.pos = 0
	return nil
}

// NextPacket reads and returns the packet at Position, advancing
// Position by one. A length-0 record terminates the stream the same
// as end-of-file (spec §4.9), surfaced as io.EOF.
func (r *Reader) NextPacket() ([]byte, error) {
	var lenField [4]byte
	if _, err := io.ReadFull(r.f, lenField[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("packets: next_packet: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenField[:])
	if n == 0 {
		return nil, io.EOF
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.f, payload); err != nil {
		return nil, fmt.Errorf("packets: next_packet payload: %w", err)
	}
	r.pos++
	return payload, nil
}

// GetPacket returns the index-th packet, amortised O(1) for the
// sequential-access case and O(k) for an arbitrary skip (spec §4.9).
// index >= PacketCount() wraps to the first packet rather than erroring
// (spec §9 open question 2: preserved source's wrap-to-first policy).
func (r *Reader) GetPacket(index int) ([]byte, error) {
	if r.count == 0 {
		return nil, fmt.Errorf("packets: get_packet: empty stream for %s", r.uid)
	}
	if index >= r.count {
		index = 0
	}

	if index < r.pos {
		if err := r.Reset(); err != nil {
			return nil, err
		}
	}
	for r.pos < index {
		if _, err := r.NextPacket(); err != nil {
			return nil, err
		}
	}
	return r.NextPacket()
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("packets: close: %w", err)
	}
	return nil
}
