package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"whatsfleet/internal/domain/instance"
)

// instanceRegistry implements instance.Registry against Postgres via bun.
type instanceRegistry struct {
	db *bun.DB
}

// NewInstanceRegistry builds the bun-backed Instance Registry.
func NewInstanceRegistry(db *bun.DB) instance.Registry {
	return &instanceRegistry{db: db}
}

func (r *instanceRegistry) Insert(ctx context.Context, inst *instance.Instance) error {
	_, err := r.db.NewInsert().Model(inst).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, "instance_name") {
			return instance.NewConflictError(instance.ErrNameTaken)
		}
		if isUniqueViolation(err, "user_id") {
			return instance.NewConflictError(instance.ErrUserAlreadyOwns)
		}
		return err
	}
	return nil
}

func (r *instanceRegistry) GetByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	inst := new(instance.Instance)
	err := r.db.NewSelect().Model(inst).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, instance.NewNotFoundByID(id)
		}
		return nil, err
	}
	return inst, nil
}

func (r *instanceRegistry) GetByName(ctx context.Context, name string) (*instance.Instance, error) {
	inst := new(instance.Instance)
	err := r.db.NewSelect().Model(inst).Where("instance_name = ?", name).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, instance.NewNotFoundByName(name)
		}
		return nil, err
	}
	return inst, nil
}

func (r *instanceRegistry) List(ctx context.Context) ([]*instance.Instance, error) {
	var instances []*instance.Instance
	err := r.db.NewSelect().Model(&instances).Order("created_at DESC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *instanceRegistry) Update(ctx context.Context, inst *instance.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	_, err := r.db.NewUpdate().Model(inst).Where("id = ?", inst.ID).Exec(ctx)
	return err
}

func (r *instanceRegistry) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*instance.Instance)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return instance.NewNotFoundByID(id)
	}
	return nil
}

func (r *instanceRegistry) ListRecoverable(ctx context.Context, limit int) ([]*instance.Instance, error) {
	var instances []*instance.Instance
	err := r.db.NewSelect().
		Model(&instances).
		Where("connection_status IN (?)", bun.In([]instance.ConnectionStatus{
			instance.StatusConnected,
			instance.StatusConnecting,
			instance.StatusQRPending,
		})).
		Order("last_connected_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *instanceRegistry) ExistsByName(ctx context.Context, name string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*instance.Instance)(nil)).
		Where("instance_name = ?", name).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *instanceRegistry) ExistsByUserID(ctx context.Context, userID uuid.UUID) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*instance.Instance)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// isUniqueViolation is a conservative check against the standard Postgres
// unique_violation message text, independent of which driver wrapped it.
func isUniqueViolation(err error, column string) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") && strings.Contains(msg, column)
}
