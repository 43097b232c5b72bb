package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream framing used by transports without native message boundaries (QUIC streams).
//
// Wire format: [1 byte frame type][4 bytes BE length][payload]

// Frame types
const (
	FrameEnvelope byte = 0x01 // Payload is an encoded Envelope
	FrameClose    byte = 0x02 // Payload is a UTF-8 close reason
	FrameHello    byte = 0x03 // First frame on a stream; payload is the URL query string
)

// MaxFrameSize caps a single frame payload
const MaxFrameSize = 10 * 1024 * 1024

var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, frameType byte, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	bp := getFrameBuffer(len(payload) + 5)
	defer putFrameBuffer(bp)

	buf := append(*bp, frameType)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	*bp = buf

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame.
func ReadFrame(r io.Reader) (frameType byte, payload []byte, err error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	frameType = header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload: %w", err)
	}
	return frameType, payload, nil
}
