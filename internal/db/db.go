package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens the Postgres pool and verifies it answers.
func Connect(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Migrations creates the conversation schema. Every statement is idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            id SERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('PRIVATE', 'GROUP')),
            display_name TEXT NOT NULL DEFAULT '',
            creator_id INT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            last_activity_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        );`,
	`CREATE TABLE IF NOT EXISTS private_pairs (
            user_low INT NOT NULL,
            user_high INT NOT NULL,
            conversation_id INT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            PRIMARY KEY (user_low, user_high),
            CHECK (user_low < user_high)
        );`,
	`CREATE TABLE IF NOT EXISTS participants (
            conversation_id INT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            last_read_at TIMESTAMPTZ,
            PRIMARY KEY (conversation_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS participants_user_idx ON participants (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            conversation_id INT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            author_id INT NOT NULL,
            content TEXT NOT NULL CHECK (content <> ''),
            client_message_id TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
            edited_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_client_id_idx
            ON messages (conversation_id, author_id, client_message_id) WHERE client_message_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS messages_order_idx ON messages (conversation_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS attachments (
            id SERIAL PRIMARY KEY,
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            url TEXT NOT NULL,
            type TEXT,
            name TEXT,
            size BIGINT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
        );`,
	`CREATE INDEX IF NOT EXISTS attachments_message_idx ON attachments (message_id);`,
	`CREATE TABLE IF NOT EXISTS message_states (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            delivered BOOLEAN NOT NULL DEFAULT FALSE,
            read BOOLEAN NOT NULL DEFAULT FALSE,
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            PRIMARY KEY (message_id, user_id),
            CHECK (NOT read OR delivered)
        );`,
	`CREATE INDEX IF NOT EXISTS message_states_unread_idx ON message_states (user_id) WHERE NOT read;`,
}

// Migrate applies Migrations in one transaction.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, m := range Migrations {
		if _, err := tx.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	logger.Info("database migrations applied", zap.Int("statements", len(Migrations)))
	return nil
}
