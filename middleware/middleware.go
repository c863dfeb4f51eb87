// Package middleware decorates server-side handlers.
//
// A Middleware wraps a Handler and returns a Handler, forming the usual
// onion model: Chain(A, B, C)(h) executes A.before → B.before → C.before →
// h → C.after → B.after → A.after. The chain is composed once, before the
// method table is frozen, never per request.
package middleware

import (
	"context"

	"agentrpc/message"
)

// Handler processes one request and returns the result payload or an error.
// Returning a *status.Status picks the wire code; any other error is
// reported as UNKNOWN.
type Handler func(ctx context.Context, req *message.Request) ([]byte, error)

// Middleware wraps a Handler with additional behavior.
type Middleware func(next Handler) Handler

// Chain combines middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
