package instance

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors used with errors.Is by callers that only need to
// classify a failure, not inspect its detail.
var (
	ErrNotFound          = errors.New("instance not found")
	ErrNameTaken         = errors.New("instance name already taken")
	ErrUserAlreadyOwns   = errors.New("user already owns an instance")
	ErrCapacityExhausted = errors.New("fleet capacity exhausted")
)

// ValidationError reports a malformed create/restart request; surfaced to
// the HTTP collaborator as 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports a unique-name collision, a per-user ownership
// violation, or the fleet capacity ceiling; surfaced as 409.
type ConflictError struct {
	Reason error
}

func (e *ConflictError) Error() string {
	return e.Reason.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Reason
}

func NewConflictError(reason error) *ConflictError {
	return &ConflictError{Reason: reason}
}

// NotFoundError reports an unknown instance_id or instance_name; surfaced
// as 404.
type NotFoundError struct {
	InstanceID   uuid.UUID
	InstanceName string
}

func (e *NotFoundError) Error() string {
	if e.InstanceName != "" {
		return fmt.Sprintf("instance %q not found", e.InstanceName)
	}
	return fmt.Sprintf("instance %s not found", e.InstanceID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundByID(id uuid.UUID) *NotFoundError {
	return &NotFoundError{InstanceID: id}
}

func NewNotFoundByName(name string) *NotFoundError {
	return &NotFoundError{InstanceName: name}
}
