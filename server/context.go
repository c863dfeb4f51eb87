package server

import (
	"context"
	"net"

	"agentrpc/message"
	"agentrpc/protocol"
)

type ctxKey int

const (
	connKey ctxKey = iota
	headerKey
	metadataKey
)

// withCallInfo builds the per-call context handed to handlers: the
// connection, the originating frame header, and the request metadata.
func withCallInfo(ctx context.Context, c net.Conn, h *protocol.Header, md []message.KeyValue) context.Context {
	ctx = context.WithValue(ctx, connKey, c)
	ctx = context.WithValue(ctx, headerKey, h)
	ctx = context.WithValue(ctx, metadataKey, md)
	return ctx
}

// ConnFromContext returns the connection the request arrived on.
func ConnFromContext(ctx context.Context) (net.Conn, bool) {
	c, ok := ctx.Value(connKey).(net.Conn)
	return c, ok
}

// HeaderFromContext returns the originating frame header.
func HeaderFromContext(ctx context.Context) (*protocol.Header, bool) {
	h, ok := ctx.Value(headerKey).(*protocol.Header)
	return h, ok
}

// MetadataFromContext returns the request's metadata pairs in wire order.
// Keys may repeat.
func MetadataFromContext(ctx context.Context) ([]message.KeyValue, bool) {
	md, ok := ctx.Value(metadataKey).([]message.KeyValue)
	return md, ok
}

// MetadataGet returns the first value for key in the request metadata.
func MetadataGet(ctx context.Context, key string) (string, bool) {
	md, ok := MetadataFromContext(ctx)
	if !ok {
		return "", false
	}
	for _, kv := range md {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}
