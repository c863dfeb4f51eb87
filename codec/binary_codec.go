package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"agentrpc/message"
	"agentrpc/status"
)

// BinaryCodec is the wire encoding of the envelopes: length-prefixed fields
// in a fixed order, all integers big-endian.
//
// Request layout:
//
//	u16 len + service | u16 len + method | u32 len + payload |
//	i64 timeoutNanos | u16 pairs, each: u16 len + key, u16 len + value
//
// Response layout:
//
//	u32 code | u16 len + message | u32 len + payload
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *message.Request:
		return c.encodeRequest(m), nil
	case *message.Response:
		return c.encodeResponse(m), nil
	default:
		return nil, errors.New("BinaryCodec: v must be *message.Request or *message.Response")
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *message.Request:
		return c.decodeRequest(data, m)
	case *message.Response:
		return c.decodeResponse(data, m)
	default:
		return errors.New("BinaryCodec: v must be *message.Request or *message.Response")
	}
}

func (c *BinaryCodec) encodeRequest(req *message.Request) []byte {
	total := 2 + len(req.Service) + 2 + len(req.Method) + 4 + len(req.Payload) + 8 + 2
	for _, kv := range req.Metadata {
		total += 2 + len(kv.Key) + 2 + len(kv.Value)
	}
	buf := make([]byte, 0, total)

	buf = appendString16(buf, req.Service)
	buf = appendString16(buf, req.Method)
	buf = appendBytes32(buf, req.Payload)
	buf = binary.BigEndian.AppendUint64(buf, uint64(req.TimeoutNanos))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.Metadata)))
	for _, kv := range req.Metadata {
		buf = appendString16(buf, kv.Key)
		buf = appendString16(buf, kv.Value)
	}
	return buf
}

func (c *BinaryCodec) decodeRequest(data []byte, req *message.Request) error {
	cur := &cursor{data: data}

	req.Service = cur.string16()
	req.Method = cur.string16()
	req.Payload = cur.bytes32()
	req.TimeoutNanos = int64(cur.uint64())
	pairs := int(cur.uint16())
	req.Metadata = nil
	for i := 0; i < pairs && cur.err == nil; i++ {
		k := cur.string16()
		v := cur.string16()
		req.Metadata = append(req.Metadata, message.KeyValue{Key: k, Value: v})
	}
	return cur.finish("request")
}

func (c *BinaryCodec) encodeResponse(resp *message.Response) []byte {
	total := 4 + 2 + len(resp.Message) + 4 + len(resp.Payload)
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint32(buf, uint32(resp.Code))
	buf = appendString16(buf, resp.Message)
	buf = appendBytes32(buf, resp.Payload)
	return buf
}

func (c *BinaryCodec) decodeResponse(data []byte, resp *message.Response) error {
	cur := &cursor{data: data}

	resp.Code = status.Code(cur.uint32())
	resp.Message = cur.string16()
	resp.Payload = cur.bytes32()
	return cur.finish("response")
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// cursor walks the buffer during decode. The first overrun latches an error
// and turns every later read into a no-op, so field readers can be chained
// without per-field checks.
type cursor struct {
	data []byte
	off  int
	err  error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.off+n > len(c.data) {
		c.err = fmt.Errorf("truncated at offset %d: need %d bytes, have %d", c.off, n, len(c.data)-c.off)
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) uint16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (c *cursor) uint32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (c *cursor) uint64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (c *cursor) string16() string {
	return string(c.take(int(c.uint16())))
}

func (c *cursor) bytes32() []byte {
	b := c.take(int(c.uint32()))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *cursor) finish(kind string) error {
	if c.err != nil {
		return fmt.Errorf("BinaryCodec: malformed %s: %v", kind, c.err)
	}
	if c.off != len(c.data) {
		return fmt.Errorf("BinaryCodec: malformed %s: %d trailing bytes", kind, len(c.data)-c.off)
	}
	return nil
}
