// Package migrations holds the schema for the PostgreSQL backend. Statements
// are idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS reward_accounts (
		owner_id   TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0,
		version    BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reward_postings (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL,
		delta           BIGINT NOT NULL,
		ref_type        TEXT NOT NULL,
		ref_id          TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reward_postings_account
		ON reward_postings (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS reward_collections (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		partner_id      TEXT NOT NULL,
		total_weight_kg DOUBLE PRECISION NOT NULL,
		received_points BIGINT NOT NULL,
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reward_completions (
		id            TEXT PRIMARY KEY,
		mission_id    TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		reward_points BIGINT NOT NULL,
		claimed       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL,
		claimed_at    TIMESTAMPTZ,
		UNIQUE (mission_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reward_progress (
		mission_id     TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		progress_value BIGINT NOT NULL,
		target_value   BIGINT NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (mission_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reward_transactions (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		method_type      TEXT NOT NULL,
		account_number   TEXT NOT NULL,
		account_name     TEXT NOT NULL,
		points_exchanged BIGINT NOT NULL,
		amount_received  BIGINT NOT NULL,
		admin_fee        BIGINT NOT NULL,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
