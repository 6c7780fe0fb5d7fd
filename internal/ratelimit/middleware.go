package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc identifies the client a request is counted against.
type KeyFunc func(r *http.Request) string

// Recorder is notified when a request is refused.
type Recorder interface {
	RecordRateLimited(ctx context.Context, route string)
}

// Middleware enforces limiter per route and client. Counter store failures
// let the request through.
func Middleware(limiter *Limiter, route string, key KeyFunc, recorder Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := key(r)

			decision, err := limiter.Allow(r.Context(), route+"|"+client)
			if err != nil {
				logger.Error("rate limiter unavailable", "error", err, "route", route)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})

				if recorder != nil {
					recorder.RecordRateLimited(r.Context(), route)
				}
				logger.Warn("request rate limited", "route", route, "client_ip", client)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
