package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"whatsfleet/internal/domain/instance"
	"whatsfleet/pkg/logger"
)

// NewDatabase opens a pooled connection to Postgres over pgdriver's wire
// protocol and wraps it with bun.
func NewDatabase(dsn string, debug bool, log logger.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if debug {
		db.AddQueryHook(logger.NewBunQueryHook(log))
	}

	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// RunMigrations creates the two tables the core depends on if they don't
// already exist. No separate migration tool is introduced — bun's own
// CREATE TABLE IF NOT EXISTS is enough for these two append-mostly tables.
func RunMigrations(db *bun.DB) error {
	ctx := context.Background()

	if _, err := db.NewCreateTable().
		Model((*instance.Instance)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create whatsapp_instances table: %w", err)
	}

	if _, err := db.NewCreateTable().
		Model((*SessionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create whatsapp_sessions table: %w", err)
	}

	return nil
}
