package packet

import (
	"encoding/binary"
	"math"
)

// Reader decodes fields from a frame payload. Bytes 0-1 are always the
// packet id. Reads past the end return zero values and mark the reader
// truncated; callers check Truncated() once after decoding instead of
// checking every field.
type Reader struct {
	data      []byte
	off       int
	truncated bool
}

// NewReader positions the reader after the id header.
func NewReader(data []byte) *Reader {
	r := &Reader{data: data, off: 2}
	if len(data) < 2 {
		r.off = len(data)
		r.truncated = true
	}
	return r
}

// PeekID reads the packet id without consuming payload bytes.
func PeekID(data []byte) ID {
	if len(data) < 2 {
		return IDNone
	}
	return ID(binary.LittleEndian.Uint16(data))
}

func (r *Reader) ID() ID {
	return PeekID(r.data)
}

// Truncated reports whether any read ran past the end of the payload.
func (r *Reader) Truncated() bool {
	return r.truncated
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if r.off+1 > len(r.data) {
		r.truncated = true
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadH reads 2 bytes as little-endian uint16.
func (r *Reader) ReadH() uint16 {
	if r.off+2 > len(r.data) {
		r.truncated = true
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadD reads 4 bytes as little-endian int32.
func (r *Reader) ReadD() int32 {
	return int32(r.ReadDU())
}

// ReadDU reads 4 bytes as little-endian uint32.
func (r *Reader) ReadDU() uint32 {
	if r.off+4 > len(r.data) {
		r.truncated = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadQ reads 8 bytes as little-endian uint64.
func (r *Reader) ReadQ() uint64 {
	if r.off+8 > len(r.data) {
		r.truncated = true
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

// ReadQS reads 8 bytes as little-endian int64.
func (r *Reader) ReadQS() int64 {
	return int64(r.ReadQ())
}

// ReadF reads 4 bytes as a little-endian IEEE-754 float32.
func (r *Reader) ReadF() float32 {
	return math.Float32frombits(r.ReadDU())
}

// ReadS reads a string encoded as u16 length followed by UTF-8 bytes.
func (r *Reader) ReadS() string {
	n := int(r.ReadH())
	if r.truncated {
		return ""
	}
	if r.off+n > len(r.data) {
		r.truncated = true
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if r.off+n > len(r.data) {
		r.truncated = true
		remaining := r.data[r.off:]
		r.off = len(r.data)
		return remaining
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
