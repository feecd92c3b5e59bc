package packet

import (
	"encoding/binary"
	"math"
	"sync"
)

// Writer builds one frame payload. All multi-byte writes are little-endian.
// Writers are pooled; callers take one with GetWriter and must not retain
// the Bytes() result after PutWriter.
type Writer struct {
	buf []byte
}

const writerInitialCap = 1024

var writerPool = sync.Pool{
	New: func() any {
		return &Writer{buf: make([]byte, 0, writerInitialCap)}
	},
}

// GetWriter returns a pooled writer primed with the packet id header.
func GetWriter(id ID) *Writer {
	w := writerPool.Get().(*Writer)
	w.buf = w.buf[:0]
	w.WriteH(uint16(id))
	return w
}

// PutWriter returns a writer to the pool.
func PutWriter(w *Writer) {
	writerPool.Put(w)
}

func NewWriter(id ID) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteH(uint16(id))
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteD writes 4 bytes little-endian signed.
func (w *Writer) WriteD(v int32) {
	w.WriteDU(uint32(v))
}

// WriteDU writes 4 bytes little-endian unsigned.
func (w *Writer) WriteDU(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteQ writes 8 bytes little-endian unsigned.
func (w *Writer) WriteQ(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteQS writes 8 bytes little-endian signed.
func (w *Writer) WriteQS(v int64) {
	w.WriteQ(uint64(v))
}

// WriteF writes a float32 as little-endian IEEE-754 bits.
func (w *Writer) WriteF(v float32) {
	w.WriteDU(math.Float32bits(v))
}

// WriteS writes a string as u16 length followed by UTF-8 bytes. Strings
// longer than 65535 bytes are truncated at the limit.
func (w *Writer) WriteS(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.WriteH(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the payload built so far. The slice aliases the writer's
// buffer; copy it if it outlives the writer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Copy returns a detached copy of the payload, safe to hold after the
// writer goes back to the pool.
func (w *Writer) Copy() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Len returns the current payload length.
func (w *Writer) Len() int {
	return len(w.buf)
}
