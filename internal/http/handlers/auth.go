package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"whatsfleet/internal/infra/authstore"
	"whatsfleet/internal/http/responses"
	"whatsfleet/pkg/logger"
)

// sessionSummary is the /auth/sessions list element: the session row's
// identity and timestamps, never its creds or keys document.
type sessionSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuthHandler exposes read/delete operations directly against the Session
// State Store, independent of the Fleet Coordinator, for operator
// inspection and manual session wipes.
type AuthHandler struct {
	rows   authstore.RowStore
	logger logger.Logger
}

// NewAuthHandler builds the auth handler.
func NewAuthHandler(rows authstore.RowStore, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		rows:   rows,
		logger: log.WithComponent("auth-handler"),
	}
}

// ListSessions returns every session row's identity and timestamps.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error().Msg("list session rows")
		responses.InternalError(w, "failed to list sessions")
		return
	}

	out := make([]sessionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionSummary{
			ID:        row.ID,
			CreatedAt: row.CreatedAt.Format(timeLayout),
			UpdatedAt: row.UpdatedAt.Format(timeLayout),
		})
	}
	responses.Success(w, "sessions listed", out)
}

// GetSession reports whether a session row exists for name.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	row, err := h.rows.Get(r.Context(), name)
	if err != nil {
		h.logger.WithError(err).Error().Msg("get session row")
		responses.InternalError(w, "failed to look up session")
		return
	}

	responses.Success(w, "session checked", map[string]interface{}{
		"exists": row != nil,
	})
}

// DeleteSession wipes the session row for name, independent of any live
// Supervisor — used to clear a stuck or orphaned session blob.
func (h *AuthHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := authstore.RemoveSession(r.Context(), h.rows, name); err != nil {
		h.logger.WithError(err).Error().Msg("delete session row")
		responses.InternalError(w, "failed to delete session")
		return
	}
	responses.Success(w, "session deleted", nil)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
