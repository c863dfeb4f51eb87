package middleware

import (
	"context"

	"github.com/sirupsen/logrus"

	"agentrpc/message"
	"agentrpc/status"
)

// Recovery converts a handler panic into an INTERNAL status so one broken
// method cannot take down the connection's serving goroutines.
func Recovery(logger logrus.FieldLogger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *message.Request) (payload []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"path":  req.Path(),
						"panic": r,
					}).Error("handler panicked")
					payload = nil
					err = status.Newf(status.Internal, "handler panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}
