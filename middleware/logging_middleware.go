package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"agentrpc/message"
	"agentrpc/status"
)

// Logging logs one line per request: path, duration, and the status code
// the caller will see.
func Logging(logger logrus.FieldLogger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			start := time.Now()
			payload, err := next(ctx, req)
			entry := logger.WithFields(logrus.Fields{
				"path":     req.Path(),
				"duration": time.Since(start),
			})
			if err != nil {
				entry.WithField("code", status.FromError(err).Code).Warn("request failed")
			} else {
				entry.Debug("request served")
			}
			return payload, err
		}
	}
}
