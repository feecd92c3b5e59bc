package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// frameHeaderSize is the length prefix in front of every packet.
	frameHeaderSize = 4

	// MaxFrameSize caps a single packet payload. Anything larger is a
	// corrupt stream or a hostile client, and the connection is dropped.
	MaxFrameSize = 100000

	// MaxBatchBytes caps one coalesced write. A snapshot batch that grows
	// past this is split across multiple writes.
	MaxBatchBytes = 64 << 20
)

// ErrInvalidFrame reports a length prefix of zero or above MaxFrameSize.
var ErrInvalidFrame = errors.New("invalid frame length")

// ReadFrame reads one packet frame from r.
// Wire format: [4 bytes LE: payload length][payload].
// Returns the payload bytes (without the length header).
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	payloadLen := binary.LittleEndian.Uint32(header[:])
	if payloadLen == 0 || payloadLen > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrame, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return payload, nil
}

// AppendFrame appends [4 bytes LE: len(payload)][payload] to dst and
// returns the extended slice.
func AppendFrame(dst, payload []byte) []byte {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// WriteFrame writes one packet frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
