// Package store is the PostgreSQL persistence layer. Every structural
// write is an upsert keyed by (account_id, provider_id) so repeated syncs
// reuse internal ids instead of duplicating rows, and nothing in here
// deletes structural data — the only delete path is the explicit
// account-unlink cascade.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle and exposes the repositories.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ads_accounts (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		profile_id TEXT NOT NULL UNIQUE,
		region TEXT NOT NULL DEFAULT 'NA',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'connected',
		last_short_sync_at TIMESTAMPTZ,
		last_medium_sync_at TIMESTAMPTZ,
		last_long_sync_at TIMESTAMPTZ,
		short_window_days INT NOT NULL DEFAULT 1,
		medium_window_days INT NOT NULL DEFAULT 7,
		long_window_days INT NOT NULL DEFAULT 30,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ads_campaigns (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES ads_accounts(id) ON DELETE CASCADE,
		provider_id BIGINT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		daily_budget DOUBLE PRECISION NOT NULL DEFAULT 0,
		spend DOUBLE PRECISION NOT NULL DEFAULT 0,
		impressions BIGINT NOT NULL DEFAULT 0,
		clicks BIGINT NOT NULL DEFAULT 0,
		orders BIGINT NOT NULL DEFAULT 0,
		sales DOUBLE PRECISION NOT NULL DEFAULT 0,
		acos DOUBLE PRECISION NOT NULL DEFAULT 0,
		ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
		cpc DOUBLE PRECISION NOT NULL DEFAULT 0,
		raw JSONB,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, provider_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ads_ad_groups (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES ads_accounts(id) ON DELETE CASCADE,
		campaign_id UUID NOT NULL REFERENCES ads_campaigns(id) ON DELETE CASCADE,
		provider_id BIGINT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		default_bid DOUBLE PRECISION NOT NULL DEFAULT 0,
		spend DOUBLE PRECISION NOT NULL DEFAULT 0,
		impressions BIGINT NOT NULL DEFAULT 0,
		clicks BIGINT NOT NULL DEFAULT 0,
		orders BIGINT NOT NULL DEFAULT 0,
		sales DOUBLE PRECISION NOT NULL DEFAULT 0,
		acos DOUBLE PRECISION NOT NULL DEFAULT 0,
		ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
		cpc DOUBLE PRECISION NOT NULL DEFAULT 0,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, provider_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ads_keywords (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES ads_accounts(id) ON DELETE CASCADE,
		campaign_id UUID NOT NULL REFERENCES ads_campaigns(id) ON DELETE CASCADE,
		ad_group_id UUID REFERENCES ads_ad_groups(id) ON DELETE CASCADE,
		provider_id BIGINT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		match_type TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		bid DOUBLE PRECISION NOT NULL DEFAULT 0,
		spend DOUBLE PRECISION NOT NULL DEFAULT 0,
		impressions BIGINT NOT NULL DEFAULT 0,
		clicks BIGINT NOT NULL DEFAULT 0,
		orders BIGINT NOT NULL DEFAULT 0,
		sales DOUBLE PRECISION NOT NULL DEFAULT 0,
		acos DOUBLE PRECISION NOT NULL DEFAULT 0,
		ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
		cpc DOUBLE PRECISION NOT NULL DEFAULT 0,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, provider_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ads_rules (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT true,
		scope TEXT NOT NULL DEFAULT 'all',
		scope_campaign_ids JSONB NOT NULL DEFAULT '[]',
		scope_keyword_ids JSONB NOT NULL DEFAULT '[]',
		conditions JSONB NOT NULL DEFAULT '[]',
		action_type TEXT NOT NULL,
		action_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		frequency_days INT NOT NULL DEFAULT 1,
		last_run TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ads_action_log (
		id UUID PRIMARY KEY,
		rule_id UUID,
		account_id UUID NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id UUID,
		provider_id BIGINT NOT NULL DEFAULT 0,
		action_type TEXT NOT NULL,
		old_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		new_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		response_code TEXT NOT NULL DEFAULT '',
		metrics_snapshot JSONB,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ads_sync_runs (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL,
		sync_window TEXT NOT NULL,
		campaigns INT NOT NULL DEFAULT 0,
		ad_groups INT NOT NULL DEFAULT 0,
		keywords INT NOT NULL DEFAULT 0,
		campaign_rows INT NOT NULL DEFAULT 0,
		keyword_rows INT NOT NULL DEFAULT 0,
		used_aggregation BOOLEAN NOT NULL DEFAULT false,
		outcome TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ads_keywords_account ON ads_keywords(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ads_action_log_account ON ads_action_log(account_id, created_at)`,
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}
