package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	header := Header{
		StreamID: 12345,
		Length:   11,
		Type:     MsgTypeRequest,
		Flags:    0,
	}
	payload := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, payload); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(payload) {
		t.Fatalf("frame size mismatch: got %d, want %d", buf.Len(), HeaderSize+len(payload))
	}

	decoded, decodedPayload, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.StreamID != header.StreamID {
		t.Errorf("StreamID mismatch: got %d, want %d", decoded.StreamID, header.StreamID)
	}
	if decoded.Length != header.Length {
		t.Errorf("Length mismatch: got %d, want %d", decoded.Length, header.Length)
	}
	if decoded.Type != header.Type {
		t.Errorf("Type mismatch: got %d, want %d", decoded.Type, header.Type)
	}
	if decoded.Flags != header.Flags {
		t.Errorf("Flags mismatch: got %d, want %d", decoded.Flags, header.Flags)
	}
	if !bytes.Equal(decodedPayload, payload) {
		t.Errorf("payload mismatch: got %q, want %q", decodedPayload, payload)
	}
}

func TestWireLayout(t *testing.T) {
	// The byte image is part of the protocol contract: big-endian stream id
	// at 0..4, length at 4..8, then type and flags.
	buf, err := Marshal(&Header{StreamID: 0x01020304, Length: 2, Type: MsgTypeResponse, Flags: FlagRemoteClosed}, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x00, 0x00, 0x00, 0x02, 0x02, 0x01, 0xAA, 0xBB}
	if !bytes.Equal(buf, want) {
		t.Fatalf("wire image mismatch:\n got %x\nwant %x", buf, want)
	}
}

func TestDecodeInvalidType(t *testing.T) {
	frame := []byte{
		0, 0, 0, 1, // stream id
		0, 0, 0, 0, // length
		9, // not in the closed type enumeration
		0, // flags
	}
	_, _, err := Decode(bytes.NewReader(frame))
	if err == nil {
		t.Fatal("expected error for invalid message type, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported message type") {
		t.Errorf("error should mention the message type, got: %v", err)
	}
}

func TestDecodeOversizeLength(t *testing.T) {
	frame := []byte{
		0, 0, 0, 1,
		0xFF, 0xFF, 0xFF, 0xFF, // absurd declared length
		byte(MsgTypeRequest),
		0,
	}
	_, _, err := Decode(bytes.NewReader(frame))
	if err == nil {
		t.Fatal("expected error for oversize declared length, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("error should mention the limit, got: %v", err)
	}
}

func TestMarshalLengthMismatch(t *testing.T) {
	_, err := Marshal(&Header{StreamID: 1, Length: 5, Type: MsgTypeRequest}, []byte("abc"))
	if err == nil {
		t.Fatal("expected length mismatch error, got nil")
	}
}

func TestUnmarshalLengthMismatch(t *testing.T) {
	buf, err := Marshal(&Header{StreamID: 1, Length: 3, Type: MsgTypeRequest}, []byte("abc"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	// Truncate one payload byte: declared and actual lengths now disagree.
	_, _, err = Unmarshal(buf[:len(buf)-1])
	if err == nil {
		t.Fatal("expected length mismatch error, got nil")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	header := Header{StreamID: 7, Length: 0, Type: MsgTypeResponse}
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, payload, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Length != 0 || len(payload) != 0 {
		t.Errorf("expected empty payload, got length %d", len(payload))
	}
}

func TestDecodeLargePayload(t *testing.T) {
	large := make([]byte, 1<<20)
	for i := range large {
		large[i] = byte(i % 256)
	}
	var buf bytes.Buffer
	header := Header{StreamID: 999, Length: uint32(len(large)), Type: MsgTypeRequest}
	if err := Encode(&buf, &header, large); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, payload, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(payload, large) {
		t.Error("large payload mismatch")
	}
}
