package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroleaf/backend/internal/models"
)

// TransactionRepo appends to and reads the transactions ledger.
// Rows are created inside the engine's transaction and never updated.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, listing_id, credit_id, buyer_id, seller_id, price, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, t.ID, t.ListingID, t.CreditID, t.BuyerID, t.SellerID, t.Price, t.Type).Scan(&t.CreatedAt)
}

// ListByCredit returns the ledger entries for one credit, oldest first,
// so callers can re-derive ownership from the committed sale order.
func (r *TransactionRepo) ListByCredit(ctx context.Context, creditID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, credit_id, buyer_id, seller_id, price, type, created_at
		FROM transactions WHERE credit_id = $1 ORDER BY created_at
	`, creditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.CreditID, &t.BuyerID, &t.SellerID,
			&t.Price, &t.Type, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// BidRepo appends to and reads the bids ledger. One row per accepted
// bid attempt; rejected bids produce no row.
type BidRepo struct {
	pool *pgxpool.Pool
}

func NewBidRepo(pool *pgxpool.Pool) *BidRepo {
	return &BidRepo{pool: pool}
}

// CreateTx inserts a bid record inside the given transaction.
func (r *BidRepo) CreateTx(ctx context.Context, tx pgx.Tx, b *models.Bid) error {
	return tx.QueryRow(ctx, `
		INSERT INTO bids (id, listing_id, bidder_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, b.ID, b.ListingID, b.BidderID, b.Amount).Scan(&b.CreatedAt)
}

// ListByListing returns accepted bids for a listing in commit order.
func (r *BidRepo) ListByListing(ctx context.Context, listingID uuid.UUID) ([]*models.Bid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, bidder_id, amount, created_at
		FROM bids WHERE listing_id = $1 ORDER BY created_at
	`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &b)
	}
	return list, rows.Err()
}
