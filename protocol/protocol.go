// Package protocol implements the binary frame layer of the agent transport.
//
// Every exchange on the wire is a frame: a fixed 10-byte header followed by a
// variable-length payload. The receiver reads the header first to learn the
// payload length, then reads exactly that many bytes, so frame boundaries
// survive arbitrary stream segmentation.
//
// Frame format:
//
//	0          4          8     9     10
//	┌──────────┬──────────┬─────┬─────┬────────────────┐
//	│ streamID │  length  │type │flags│   payload ...  │
//	│  uint32  │  uint32  │ u8  │ u8  │  length bytes  │
//	└──────────┴──────────┴─────┴─────┴────────────────┘
//
// All integers are big-endian. streamID correlates a request with its
// response on one connection; the server reflects it back unchanged.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 10

	// MaxPayloadSize caps a single frame's payload. A declared length above
	// this is a fatal protocol error: the stream framing can no longer be
	// trusted.
	MaxPayloadSize = 4 << 20
)

// MsgType distinguishes request and response frames. The enumeration is
// closed; any other value on the wire is a protocol error.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 1
	MsgTypeResponse MsgType = 2
)

// Flag bits carried in the header's flags byte.
const (
	FlagRemoteClosed byte = 0x1 // peer will send nothing further on this stream
)

// Header is the fixed 10-byte frame header.
type Header struct {
	StreamID uint32  // Correlation key between a request and its response
	Length   uint32  // Payload length in bytes
	Type     MsgType // Request or Response
	Flags    byte    // FlagRemoteClosed, remaining bits reserved as zero
}

// Marshal serializes a complete frame (header + payload) into one buffer.
// It fails if the header's declared length disagrees with the payload.
func Marshal(h *Header, payload []byte) ([]byte, error) {
	if int(h.Length) != len(payload) {
		return nil, fmt.Errorf("protocol: declared length %d != payload length %d", h.Length, len(payload))
	}
	if h.Type != MsgTypeRequest && h.Type != MsgTypeResponse {
		return nil, fmt.Errorf("protocol: unsupported message type: %d", h.Type)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], h.StreamID)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	buf[8] = byte(h.Type)
	buf[9] = h.Flags
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Unmarshal parses a complete frame from one buffer. It fails if the declared
// length and actual byte count disagree, or the type is outside the closed
// enumeration.
func Unmarshal(data []byte) (*Header, []byte, error) {
	if len(data) < HeaderSize {
		return nil, nil, fmt.Errorf("protocol: frame truncated: %d bytes", len(data))
	}
	h, err := parseHeader(data[:HeaderSize])
	if err != nil {
		return nil, nil, err
	}
	if int(h.Length) != len(data)-HeaderSize {
		return nil, nil, fmt.Errorf("protocol: declared length %d != payload length %d", h.Length, len(data)-HeaderSize)
	}
	return h, data[HeaderSize:], nil
}

// Encode writes a complete frame to w. The header and payload go out as a
// single Write, so the frame is never split across two writes of the caller.
// Callers sharing one writer must still serialize: concurrent Encodes would
// interleave frames and corrupt the stream.
func Encode(w io.Writer, h *Header, payload []byte) error {
	buf, err := Marshal(h, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads one complete frame from r. It uses io.ReadFull so exactly
// HeaderSize header bytes and h.Length payload bytes are consumed, never a
// partial read. Any error is fatal to the stream: after a bad header the
// frame boundaries are unknown.
func Decode(r io.Reader) (*Header, []byte, error) {
	hbuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return nil, nil, err
	}
	h, err := parseHeader(hbuf)
	if err != nil {
		return nil, nil, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}
	return h, payload, nil
}

func parseHeader(b []byte) (*Header, error) {
	h := &Header{
		StreamID: binary.BigEndian.Uint32(b[0:4]),
		Length:   binary.BigEndian.Uint32(b[4:8]),
		Type:     MsgType(b[8]),
		Flags:    b[9],
	}
	if h.Type != MsgTypeRequest && h.Type != MsgTypeResponse {
		return nil, fmt.Errorf("protocol: unsupported message type: %d", h.Type)
	}
	if h.Length > MaxPayloadSize {
		return nil, fmt.Errorf("protocol: payload length %d exceeds limit %d", h.Length, MaxPayloadSize)
	}
	return h, nil
}
