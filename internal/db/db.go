package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"atelier/internal/logging"
)

// ChangeChannel is the LISTEN/NOTIFY channel row triggers publish on.
const ChangeChannel = "atelier_row_changes"

// Connect initializes the database connection and runs migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	logger := logging.NewPackageLogger("db")
	logger.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
	`CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            full_name TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'member',
            avatar_url TEXT NOT NULL DEFAULT '',
            location TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
	// pair_key makes "one row per unordered pair" a store constraint.
	`CREATE TABLE IF NOT EXISTS connections (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'rejected')),
            pair_key TEXT GENERATED ALWAYS AS (LEAST(sender_id, receiver_id) || ':' || GREATEST(sender_id, receiver_id)) STORED,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (sender_id <> receiver_id),
            UNIQUE (pair_key)
        );`,
	`CREATE INDEX IF NOT EXISTS idx_connections_receiver_status ON connections (receiver_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_connections_sender_status ON connections (sender_id, status);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            content TEXT NOT NULL,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS idx_messages_receiver_sender_unread ON messages (receiver_id, sender_id) WHERE NOT is_read;`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON messages (sender_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_receiver_created ON messages (receiver_id, created_at DESC);`,
	`CREATE OR REPLACE FUNCTION notify_row_change() RETURNS trigger AS $$
        DECLARE
            payload JSON;
        BEGIN
            IF TG_OP = 'DELETE' THEN
                payload := json_build_object('table', TG_TABLE_NAME, 'type', TG_OP, 'row', row_to_json(OLD));
            ELSE
                payload := json_build_object('table', TG_TABLE_NAME, 'type', TG_OP, 'row', row_to_json(NEW));
            END IF;
            PERFORM pg_notify('` + ChangeChannel + `', payload::text);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS connections_notify ON connections;`,
	`CREATE TRIGGER connections_notify AFTER INSERT OR UPDATE OR DELETE ON connections
        FOR EACH ROW EXECUTE FUNCTION notify_row_change();`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE OR DELETE ON messages
        FOR EACH ROW EXECUTE FUNCTION notify_row_change();`,
}
