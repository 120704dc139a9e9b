package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migration is one idempotent schema step.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				uid BIGINT PRIMARY KEY,
				username VARCHAR(255) NOT NULL DEFAULT '',
				balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "transactions table",
		sql: `
			CREATE TABLE IF NOT EXISTS transactions (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				amount BIGINT NOT NULL,
				type VARCHAR(50) NOT NULL,
				category VARCHAR(16) NOT NULL DEFAULT '',
				primary_ref BIGINT NOT NULL DEFAULT 0,
				secondary_ref BIGINT NOT NULL DEFAULT 0,
				description TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_transactions_type_time ON transactions(type, created_at DESC);
		`,
	},
	{
		name: "lottery_terms table",
		sql: `
			CREATE TABLE IF NOT EXISTS lottery_terms (
				term_id BIGSERIAL PRIMARY KEY,
				winner_uid BIGINT NOT NULL DEFAULT 0,
				winner_ticket_number BIGINT NOT NULL DEFAULT 0,
				ticket_count BIGINT NOT NULL DEFAULT 0,
				money BIGINT NOT NULL DEFAULT 0,
				start_time BIGINT NOT NULL DEFAULT 0,
				end_time BIGINT NOT NULL DEFAULT 0
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_lottery_terms_single_open
				ON lottery_terms ((end_time = 0)) WHERE end_time = 0;
		`,
	},
	{
		name: "lottery_tickets table",
		sql: `
			CREATE TABLE IF NOT EXISTS lottery_tickets (
				ticket_id BIGSERIAL PRIMARY KEY,
				term_id BIGINT NOT NULL REFERENCES lottery_terms(term_id),
				uid BIGINT NOT NULL,
				dateline BIGINT NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_lottery_tickets_term_uid ON lottery_tickets(term_id, uid);
		`,
	},
	{
		// The audit log outlives accounts; a user holding tickets cannot be
		// deleted, since ticket_count must keep matching the ticket rows.
		name: "user foreign keys",
		sql: `
			ALTER TABLE transactions DROP CONSTRAINT IF EXISTS transactions_user_id_fkey;
			ALTER TABLE lottery_tickets DROP CONSTRAINT IF EXISTS lottery_tickets_uid_fkey;
			ALTER TABLE lottery_tickets ADD CONSTRAINT lottery_tickets_uid_fkey
				FOREIGN KEY (uid) REFERENCES users(uid) ON DELETE RESTRICT;
		`,
	},
}

// Migrate applies the schema. Every step is idempotent so it runs on each start.
func Migrate(ctx context.Context, db DBTX) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
