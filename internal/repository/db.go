package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration. Tenants and users are
// created by the main application at signup; this service reads them and owns
// the subscriptions mirror and the webhook event log.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS tenants (
			id                 BIGSERIAL PRIMARY KEY,
			stripe_customer_id TEXT UNIQUE,
			active             BOOLEAN NOT NULL DEFAULT TRUE,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			tenant_id  BIGINT NOT NULL REFERENCES tenants(id),
			email      TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                     TEXT PRIMARY KEY,
			tenant_id              BIGINT NOT NULL REFERENCES tenants(id),
			stripe_subscription_id TEXT NOT NULL UNIQUE,
			stripe_price_id        TEXT NOT NULL DEFAULT '',
			status                 TEXT NOT NULL,
			current_period_start   TIMESTAMPTZ,
			current_period_end     TIMESTAMPTZ,
			cancel_at_period_end   BOOLEAN NOT NULL DEFAULT FALSE,
			event_ts               TIMESTAMPTZ NOT NULL,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant_id ON subscriptions(tenant_id);

		CREATE TABLE IF NOT EXISTS webhook_events (
			provider_event_id TEXT PRIMARY KEY,
			event_type        TEXT NOT NULL,
			attempts          INT NOT NULL DEFAULT 1,
			processed_at      TIMESTAMPTZ,
			last_error        TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
