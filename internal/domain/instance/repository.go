package instance

import (
	"context"

	"github.com/google/uuid"
)

// Registry is the row-level contract the core needs from the Instance
// Registry (spec.md §4.D) — an external, row-oriented store keyed by
// instance_id or instance_name.
type Registry interface {
	// Insert persists a new instance row, surfacing ErrNameTaken or
	// ErrUserAlreadyOwns as a *ConflictError on a unique violation.
	Insert(ctx context.Context, inst *Instance) error

	// GetByID returns the row for id, or a *NotFoundError.
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)

	// GetByName returns the row for name, or a *NotFoundError.
	GetByName(ctx context.Context, name string) (*Instance, error)

	// List returns every row, newest first.
	List(ctx context.Context) ([]*Instance, error)

	// Update persists every mutable field of inst.
	Update(ctx context.Context, inst *Instance) error

	// DeleteByID removes the row for id; a missing row is a *NotFoundError.
	DeleteByID(ctx context.Context, id uuid.UUID) error

	// ListRecoverable returns rows whose connection_status is one boot
	// recovery should attempt, ordered by last_connected_at ascending,
	// capped at limit.
	ListRecoverable(ctx context.Context, limit int) ([]*Instance, error)

	// ExistsByName reports whether name is already taken.
	ExistsByName(ctx context.Context, name string) (bool, error)

	// ExistsByUserID reports whether userID already owns an instance.
	ExistsByUserID(ctx context.Context, userID uuid.UUID) (bool, error)
}
