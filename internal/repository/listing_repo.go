package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroleaf/backend/internal/models"
)

type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

const listingColumns = `id, credit_id, project_id, owner_id, current_price, price_history,
	is_active, status, is_auction, auction_end, high_bidder_id, buyer_id, sold_at, created_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.CreditID, &l.ProjectID, &l.OwnerID, &l.CurrentPrice,
		&l.PriceHistory, &l.IsActive, &l.Status, &l.IsAuction, &l.AuctionEnd,
		&l.HighBidderID, &l.BuyerID, &l.SoldAt, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return scanListing(r.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM marketplace_listings WHERE id = $1`, id))
}

// GetTx reads the listing inside the engine's transaction. Returns
// (nil, nil) when the listing does not exist.
func (r *ListingRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	return scanListing(tx.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM marketplace_listings WHERE id = $1`, id))
}

// CreateTx inserts a listing inside the given transaction.
func (r *ListingRepo) CreateTx(ctx context.Context, tx pgx.Tx, l *models.Listing) error {
	return tx.QueryRow(ctx, `
		INSERT INTO marketplace_listings (id, credit_id, project_id, owner_id, current_price,
			price_history, is_active, status, is_auction, auction_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, l.ID, l.CreditID, l.ProjectID, l.OwnerID, l.CurrentPrice, l.PriceHistory,
		l.IsActive, l.Status, l.IsAuction, l.AuctionEnd).Scan(&l.CreatedAt)
}

// UpdateTx writes the mutable listing fields inside the given transaction.
func (r *ListingRepo) UpdateTx(ctx context.Context, tx pgx.Tx, l *models.Listing) error {
	_, err := tx.Exec(ctx, `
		UPDATE marketplace_listings
		SET current_price = $2, price_history = $3, is_active = $4, status = $5,
			high_bidder_id = $6, buyer_id = $7, sold_at = $8
		WHERE id = $1
	`, l.ID, l.CurrentPrice, l.PriceHistory, l.IsActive, l.Status,
		l.HighBidderID, l.BuyerID, l.SoldAt)
	return err
}

// ListActive returns all active listings, newest first.
func (r *ListingRepo) ListActive(ctx context.Context) ([]*models.Listing, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM marketplace_listings WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ID, &l.CreditID, &l.ProjectID, &l.OwnerID, &l.CurrentPrice,
			&l.PriceHistory, &l.IsActive, &l.Status, &l.IsAuction, &l.AuctionEnd,
			&l.HighBidderID, &l.BuyerID, &l.SoldAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
