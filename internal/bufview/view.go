// Package bufview provides a cursor over a byte slice that can be
// advanced, numerically decoded, and bounds-limited without copying,
// generalizing the byte-range slicing discipline callcap's wire formats
// share (ring buffer payloads, metadata records, packet files).
package bufview

import (
	"encoding/binary"
)

// ErrInsufficientData is returned whenever a View does not hold enough
// bytes to satisfy the requested shift or numeric decode.
type ErrInsufficientData struct {
	Want int
	Have int
}

func (e *ErrInsufficientData) Error() string {
	return "bufview: insufficient data"
}

// View is a read-only cursor over a byte slice. Its zero value is an
// empty view.
type View struct {
	data []byte
}

// New wraps data in a View starting at its first byte.
func New(data []byte) View {
	return View{data: data}
}

// Empty reports whether the view holds zero bytes.
func (v View) Empty() bool { return len(v.data) == 0 }

// Len returns the number of bytes remaining in the view.
func (v View) Len() int { return len(v.data) }

// AsSlice returns the view's remaining bytes. The returned slice
// aliases the view's backing array; callers that retain it across a
// subsequent buffer release must copy it first.
func (v View) AsSlice() []byte { return v.data }

// Shift removes and returns the first n bytes, advancing the view past
// them. It fails with ErrInsufficientData if fewer than n bytes remain.
func (v View) Shift(n int) (View, []byte, error) {
	if n > len(v.data) {
		return v, nil, &ErrInsufficientData{Want: n, Have: len(v.data)}
	}
	taken := v.data[:n]
	return View{data: v.data[n:]}, taken, nil
}

// Constrain returns a view limited to at most n bytes of the current
// view's front, without consuming them from the receiver.
func (v View) Constrain(n int) View {
	if n > len(v.data) {
		n = len(v.data)
	}
	return View{data: v.data[:n]}
}

// ShiftUint8 consumes and decodes a single byte.
func (v View) ShiftUint8() (View, uint8, error) {
	next, b, err := v.Shift(1)
	if err != nil {
		return v, 0, err
	}
	return next, b[0], nil
}

// ShiftUint16 consumes and decodes a little-endian uint16.
func (v View) ShiftUint16() (View, uint16, error) {
	next, b, err := v.Shift(2)
	if err != nil {
		return v, 0, err
	}
	return next, binary.LittleEndian.Uint16(b), nil
}

// ShiftUint32 consumes and decodes a little-endian uint32.
func (v View) ShiftUint32() (View, uint32, error) {
	next, b, err := v.Shift(4)
	if err != nil {
		return v, 0, err
	}
	return next, binary.LittleEndian.Uint32(b), nil
}

// ShiftUint64 consumes and decodes a little-endian uint64.
func (v View) ShiftUint64() (View, uint64, error) {
	next, b, err := v.Shift(8)
	if err != nil {
		return v, 0, err
	}
	return next, binary.LittleEndian.Uint64(b), nil
}

// PutUint32 writes a little-endian uint32 into dst at the given offset.
// It is the write-side counterpart used by the metadata publisher,
// which writes into an exclusively borrowed shared-memory region rather
// than consuming a View.
func PutUint32(dst []byte, offset int, v uint32) {
	binary.LittleEndian.PutUint32(dst[offset:offset+4], v)
}

// PutUint16 writes a little-endian uint16 into dst at the given offset.
func PutUint16(dst []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(dst[offset:offset+2], v)
}
