package sqlstore

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL UNIQUE,
		reserve_balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (reserve_balance >= 0),
		liquid_balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (liquid_balance >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deposit_batches (
		id UUID PRIMARY KEY,
		seq BIGINT NOT NULL,
		owner_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		bucket TEXT NOT NULL CHECK (bucket = 'reserve'),
		original_amount NUMERIC(20, 2) NOT NULL CHECK (original_amount > 0),
		remaining_amount NUMERIC(20, 2) NOT NULL CHECK (remaining_amount >= 0 AND remaining_amount <= original_amount),
		created_at TIMESTAMPTZ NOT NULL,
		maturity_deadline TIMESTAMPTZ NOT NULL,
		matured BOOLEAN NOT NULL DEFAULT FALSE,
		matured_at TIMESTAMPTZ,
		UNIQUE (owner_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deposit_batches_fifo
		ON deposit_batches (owner_id, matured, created_at, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_deposit_batches_due
		ON deposit_batches (maturity_deadline) WHERE matured = FALSE`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		amount NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		bucket TEXT,
		detail JSONB NOT NULL DEFAULT '{}',
		related_batch_id UUID REFERENCES deposit_batches(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries (account_id, created_at DESC, seq DESC)`,
}

// SQLite keeps amounts as TEXT so they round-trip exactly
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		reserve_balance TEXT NOT NULL DEFAULT '0.00',
		liquid_balance TEXT NOT NULL DEFAULT '0.00',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deposit_batches (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		owner_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		bucket TEXT NOT NULL CHECK (bucket = 'reserve'),
		original_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		maturity_deadline TIMESTAMP NOT NULL,
		matured BOOLEAN NOT NULL DEFAULT 0,
		matured_at TIMESTAMP,
		UNIQUE (owner_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deposit_batches_fifo
		ON deposit_batches (owner_id, matured, created_at, seq)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		bucket TEXT,
		detail TEXT NOT NULL DEFAULT '{}',
		related_batch_id TEXT REFERENCES deposit_batches(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries (account_id, created_at DESC, seq DESC)`,
}

// Migrate creates the fund tables and indexes if they do not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if db.Dialect == SQLite {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", db.Dialect, err)
		}
	}
	return nil
}
