// Package message defines the structured request and response envelopes
// carried in frame payloads.
//
// A Request names the target method, carries an opaque argument payload, an
// advisory deadline, and ordered metadata pairs. A Response carries a status
// code plus message and, on success, the result payload. The envelopes are
// serialized by the codec layer and wrapped in a protocol frame.
package message

import "agentrpc/status"

// KeyValue is one metadata pair. Metadata is ordered and keys may repeat,
// so it is a slice of pairs rather than a map.
type KeyValue struct {
	Key   string
	Value string
}

// Request is the envelope for a single call.
type Request struct {
	Service      string     // Target service name, e.g. "Agent"
	Method       string     // Target method name, e.g. "Check"
	Payload      []byte     // Opaque serialized arguments
	TimeoutNanos int64      // Advisory deadline; 0 means no deadline
	Metadata     []KeyValue // Ordered pairs, keys may repeat
}

// Path returns the routing key for this request.
func (r *Request) Path() string {
	return "/" + r.Service + "/" + r.Method
}

// Response is the envelope for a single reply.
type Response struct {
	Code    status.Code // OK on success
	Message string      // Human-readable description for non-OK codes
	Payload []byte      // Result bytes, present only on success
}

// Status returns the response's status as an error value, or nil for OK.
func (r *Response) Status() error {
	if r.Code == status.OK {
		return nil
	}
	return status.New(r.Code, r.Message)
}
