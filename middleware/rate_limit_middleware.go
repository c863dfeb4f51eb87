package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"agentrpc/message"
	"agentrpc/status"
)

// RateLimit sheds load with a token bucket: r requests per second with the
// given burst. Rejected requests answer RESOURCE_EXHAUSTED instead of
// queueing behind a saturated server.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			if !limiter.Allow() {
				return nil, status.New(status.ResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
