// Package codec serializes the message envelopes that ride inside protocol
// frames.
//
// Binary is the wire format: hand-written, length-prefixed, big-endian, so
// the byte image is fixed and free of field-name overhead. JSON exists for
// debugging and tooling, where a human needs to read the envelope.
package codec

// Codec encodes and decodes message envelopes (*message.Request or
// *message.Response).
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default is the codec used on the wire.
var Default Codec = &BinaryCodec{}
