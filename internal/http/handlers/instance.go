package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"whatsfleet/internal/domain/instance"
	"whatsfleet/internal/http/responses"
	"whatsfleet/internal/http/validator"
	"whatsfleet/internal/infra/whatsapp/fleet"
	"whatsfleet/pkg/logger"
)

// InstanceHandler exposes the fleet's create/list/get/qr/restart/delete
// surface, grounded on the teacher's SessionHandler but driven by the
// Fleet Coordinator instead of a per-session use case per endpoint.
type InstanceHandler struct {
	coordinator *fleet.Coordinator
	logger      logger.Logger
}

// NewInstanceHandler builds the instance handler.
func NewInstanceHandler(coordinator *fleet.Coordinator, log logger.Logger) *InstanceHandler {
	return &InstanceHandler{
		coordinator: coordinator,
		logger:      log.WithComponent("instance-handler"),
	}
}

// createInstanceRequest is the POST /instances/create body.
type createInstanceRequest struct {
	UserID       uuid.UUID `json:"user_id" validate:"required"`
	InstanceName string    `json:"instance_name" validate:"required,min=1,max=100"`
	WebhookURL   string    `json:"webhook_url" validate:"omitempty,url"`
}

// Create validates and registers a new fleet instance, then starts its
// Socket Supervisor asynchronously.
func (h *InstanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error().Msg("decode create instance request")
		responses.BadRequest(w, "invalid request body", err.Error())
		return
	}
	if err := validator.Struct(req); err != nil {
		responses.BadRequest(w, "invalid request body", err.Error())
		return
	}

	inst, err := h.coordinator.CreateInstance(r.Context(), req.UserID, req.InstanceName, req.WebhookURL)
	if err != nil {
		h.writeDomainError(w, err, "create instance")
		return
	}

	responses.Created(w, "instance created", inst)
}

// List returns every fleet instance.
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	instances, err := h.coordinator.ListInstances(r.Context())
	if err != nil {
		h.logger.WithError(err).Error().Msg("list instances")
		responses.InternalError(w, "failed to list instances")
		return
	}
	responses.Success(w, "instances listed", instances)
}

// Get returns one instance by id.
func (h *InstanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		responses.BadRequest(w, "invalid instance id", err.Error())
		return
	}

	inst, err := h.coordinator.GetInstance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "get instance")
		return
	}
	responses.Success(w, "instance found", inst)
}

// GetQR returns the instance's current QR code and connection status.
func (h *InstanceHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		responses.BadRequest(w, "invalid instance id", err.Error())
		return
	}

	dataURL, status, err := h.coordinator.GetQR(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "get qr code")
		return
	}

	responses.Success(w, "qr code retrieved", map[string]interface{}{
		"qr_code":           dataURL,
		"connection_status": status,
	})
}

// Restart tears the instance's socket down and reconnects from scratch.
func (h *InstanceHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		responses.BadRequest(w, "invalid instance id", err.Error())
		return
	}

	if err := h.coordinator.RestartInstance(r.Context(), id); err != nil {
		h.writeDomainError(w, err, "restart instance")
		return
	}
	responses.Success(w, "instance restarting", nil)
}

// Delete closes the socket, wipes the session and deletes the row.
func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		responses.BadRequest(w, "invalid instance id", err.Error())
		return
	}

	if err := h.coordinator.DeleteInstance(r.Context(), id); err != nil {
		h.writeDomainError(w, err, "delete instance")
		return
	}
	responses.Success(w, "instance deleted", nil)
}

func parseInstanceID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *InstanceHandler) writeDomainError(w http.ResponseWriter, err error, op string) {
	var validationErr *instance.ValidationError
	var conflictErr *instance.ConflictError
	var notFoundErr *instance.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		responses.BadRequest(w, "invalid request", validationErr.Error())
	case errors.As(err, &conflictErr):
		responses.Conflict(w, "conflict", conflictErr.Error())
	case errors.As(err, &notFoundErr):
		responses.NotFound(w, "instance not found")
	default:
		h.logger.WithError(err).Error().Msg(op)
		responses.InternalError(w, "internal server error")
	}
}
