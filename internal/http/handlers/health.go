package handlers

import (
	"net/http"

	"whatsfleet/internal/http/responses"
)

// HealthHandler answers liveness checks.
type HealthHandler struct{}

// NewHealthHandler builds the health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Health reports the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	responses.Success(w, "service is healthy", map[string]interface{}{
		"status":  "ok",
		"service": "whatsfleet-api",
	})
}
