package authstore

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"

	"whatsfleet/internal/infra/database"
)

// bunRowStore is the production RowStore, backed by the whatsapp_sessions
// table through bun the same way instanceRegistry backs instance.Registry.
type bunRowStore struct {
	db *bun.DB
}

// NewBunRowStore builds the Postgres-backed RowStore the Fleet Coordinator
// opens every AuthState through.
func NewBunRowStore(db *bun.DB) RowStore {
	return &bunRowStore{db: db}
}

func (r *bunRowStore) Get(ctx context.Context, instanceName string) (*database.SessionRow, error) {
	row := new(database.SessionRow)
	err := r.db.NewSelect().Model(row).Where("id = ?", instanceName).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

func (r *bunRowStore) Upsert(ctx context.Context, row *database.SessionRow) error {
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("creds = EXCLUDED.creds").
		Set("keys = EXCLUDED.keys").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *bunRowStore) Delete(ctx context.Context, instanceName string) error {
	_, err := r.db.NewDelete().
		Model((*database.SessionRow)(nil)).
		Where("id = ?", instanceName).
		Exec(ctx)
	return err
}

func (r *bunRowStore) List(ctx context.Context) ([]*database.SessionRow, error) {
	var rows []*database.SessionRow
	err := r.db.NewSelect().
		Model(&rows).
		Column("id", "created_at", "updated_at").
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
