package middleware

import (
	"net/http"
	"time"

	"whatsfleet/pkg/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// NewLoggingMiddleware logs every request through the shared Logger,
// escalating to warn on slow requests and error on 4xx/5xx responses.
func NewLoggingMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				duration := time.Since(start)
				status := ww.Status()

				switch {
				case status >= 400:
					log.WithFields(map[string]interface{}{
						"method": r.Method,
						"path":   r.URL.Path,
						"status": status,
						"ms":     duration.Milliseconds(),
					}).Error().Msg("http error")
				case duration > 3*time.Second:
					log.WithFields(map[string]interface{}{
						"method": r.Method,
						"path":   r.URL.Path,
						"status": status,
						"ms":     duration.Milliseconds(),
					}).Warn().Msg("slow request")
				default:
					log.WithFields(map[string]interface{}{
						"method": r.Method,
						"path":   r.URL.Path,
						"status": status,
						"ms":     duration.Milliseconds(),
					}).Debug().Msg("http request")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
