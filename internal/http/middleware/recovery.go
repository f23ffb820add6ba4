package middleware

import (
	"net/http"
	"runtime/debug"

	"whatsfleet/internal/http/responses"
	"whatsfleet/pkg/logger"
)

// NewRecoveryMiddleware recovers a panicking handler and returns a 500
// instead of crashing the process.
func NewRecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"panic":       err,
						"stack":       string(debug.Stack()),
						"method":      r.Method,
						"url":         r.URL.String(),
						"user_agent":  r.UserAgent(),
						"remote_addr": r.RemoteAddr,
					}).Error().Msg("panic recovered")

					responses.Error500(w, "internal server error", "INTERNAL_ERROR", "an unexpected error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}