// Package postgres provides PostgreSQL-backed order and wallet stores.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	order_number   TEXT NOT NULL UNIQUE,
	user_id        TEXT NOT NULL,
	tracking_id    TEXT UNIQUE,
	status         TEXT NOT NULL,
	booking_state  TEXT NOT NULL,
	payment_status TEXT NOT NULL,
	version        BIGINT NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	doc            JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_booking_state_idx ON orders (booking_state);

CREATE TABLE IF NOT EXISTS wallet_accounts (
	user_id    TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	version    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES wallet_accounts(user_id),
	kind            TEXT NOT NULL,
	amount          BIGINT NOT NULL CHECK (amount > 0),
	balance_after   BIGINT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	order_ref       TEXT NOT NULL DEFAULT '',
	tracking_ref    TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT,
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS wallet_transactions_user_idx ON wallet_transactions (user_id, created_at DESC);
`

// Open connects to databaseURL, checks the connection and creates the schema.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates missing tables and indexes.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
