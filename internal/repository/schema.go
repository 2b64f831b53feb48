package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the application schema idempotently. Each entity type
// is its own top-level table; referential integrity across them is the
// engine's responsibility, so there are no foreign keys by design of
// the original document layout.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sites (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			region TEXT NOT NULL,
			owner_id UUID NOT NULL,
			area_ha DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS carbon_credits (
			id UUID PRIMARY KEY,
			token_id TEXT NOT NULL,
			site_id UUID NOT NULL,
			owner_id UUID NOT NULL,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			amount DOUBLE PRECISION NOT NULL,
			vintage INT NOT NULL,
			region TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			history JSONB NOT NULL DEFAULT '[]',
			verified_by UUID,
			verified_date TIMESTAMPTZ,
			transferred_at TIMESTAMPTZ,
			retired_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS marketplace_listings (
			id UUID PRIMARY KEY,
			credit_id UUID NOT NULL,
			project_id UUID NOT NULL,
			owner_id UUID NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			price_history JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT true,
			status TEXT NOT NULL,
			is_auction BOOLEAN NOT NULL DEFAULT false,
			auction_end TIMESTAMPTZ,
			high_bidder_id UUID,
			buyer_id UUID,
			sold_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS bids (
			id UUID PRIMARY KEY,
			listing_id UUID NOT NULL,
			bidder_id UUID NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			listing_id UUID,
			credit_id UUID NOT NULL,
			buyer_id UUID NOT NULL,
			seller_id UUID NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_active ON marketplace_listings (created_at DESC) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_credits_owner ON carbon_credits (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credits_status ON carbon_credits (status)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_listing ON bids (listing_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_credit ON transactions (credit_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
