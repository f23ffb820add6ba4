package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"whatsfleet/internal/http/responses"
)

// NewRateLimit builds a per-IP rate limiting middleware.
func NewRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			responses.TooManyRequests(w, "rate limit exceeded")
		}),
	)
}