package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements are applied in order inside one transaction. DDL is
// embedded so the binary bootstraps its own store.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS validators (
		id                 TEXT PRIMARY KEY,
		public_key         BYTEA NOT NULL,
		reputation         DOUBLE PRECISION NOT NULL DEFAULT 0,
		stake              DOUBLE PRECISION NOT NULL DEFAULT 0,
		specializations    TEXT[] NOT NULL DEFAULT '{}',
		status             TEXT NOT NULL,
		last_activity      TIMESTAMPTZ NOT NULL,
		validation_history JSONB,
		slashing_history   JSONB,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_validators_status ON validators (status)`,
	`CREATE INDEX IF NOT EXISTS idx_validators_selection ON validators ((reputation * stake) DESC)`,

	`CREATE TABLE IF NOT EXISTS validation_sessions (
		id            TEXT PRIMARY KEY,
		content_id    TEXT NOT NULL,
		content_type  TEXT NOT NULL,
		validator_ids TEXT[] NOT NULL,
		submissions   JSONB,
		status        TEXT NOT NULL,
		start_time    TIMESTAMPTZ NOT NULL,
		deadline      TIMESTAMPTZ NOT NULL,
		result        JSONB,
		completed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON validation_sessions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_deadline ON validation_sessions (deadline)`,

	`CREATE TABLE IF NOT EXISTS slashing_events (
		id           TEXT PRIMARY KEY,
		validator_id TEXT NOT NULL,
		reason       TEXT NOT NULL,
		severity     TEXT NOT NULL,
		amount       DOUBLE PRECISION NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slashing_validator ON slashing_events (validator_id)`,
}

// InitSchema creates the tables and indexes the repository needs.
// Statements execute in a single transaction so a partial bootstrap
// never leaves a half-created schema behind.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

// Pool exposes the underlying connection pool for schema bootstrap and tests.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}
