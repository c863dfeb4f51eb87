package codec

import (
	"encoding/json"
)

// JSONCodec serializes envelopes with encoding/json. It is not the wire
// format; it exists for debug tooling and log capture where a human needs
// to read the envelope.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
