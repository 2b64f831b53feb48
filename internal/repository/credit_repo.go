package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroleaf/backend/internal/models"
)

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

const creditColumns = `id, token_id, site_id, owner_id, price, amount, vintage, region, status,
	history, verified_by, verified_date, transferred_at, retired_at, created_at, updated_at`

func scanCredit(row pgx.Row) (*models.Credit, error) {
	var c models.Credit
	err := row.Scan(&c.ID, &c.TokenID, &c.SiteID, &c.OwnerID, &c.Price, &c.Amount, &c.Vintage,
		&c.Region, &c.Status, &c.History, &c.VerifiedBy, &c.VerifiedDate, &c.TransferredAt,
		&c.RetiredAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CreditRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Credit, error) {
	return scanCredit(r.pool.QueryRow(ctx,
		`SELECT `+creditColumns+` FROM carbon_credits WHERE id = $1`, id))
}

// GetTx reads the credit inside the engine's transaction. Returns
// (nil, nil) when the credit does not exist.
func (r *CreditRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Credit, error) {
	return scanCredit(tx.QueryRow(ctx,
		`SELECT `+creditColumns+` FROM carbon_credits WHERE id = $1`, id))
}

// CreateTx inserts a credit inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.Credit) error {
	return tx.QueryRow(ctx, `
		INSERT INTO carbon_credits (id, token_id, site_id, owner_id, price, amount, vintage, region, status, history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, c.ID, c.TokenID, c.SiteID, c.OwnerID, c.Price, c.Amount, c.Vintage, c.Region, c.Status, c.History).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

// UpdateTx writes the mutable credit fields inside the given transaction.
func (r *CreditRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *models.Credit) error {
	_, err := tx.Exec(ctx, `
		UPDATE carbon_credits
		SET owner_id = $2, price = $3, status = $4, history = $5, verified_by = $6,
			verified_date = $7, transferred_at = $8, retired_at = $9, updated_at = now()
		WHERE id = $1
	`, c.ID, c.OwnerID, c.Price, c.Status, c.History, c.VerifiedBy, c.VerifiedDate,
		c.TransferredAt, c.RetiredAt)
	return err
}

// ListByStatus returns credits with the given status, newest first.
func (r *CreditRepo) ListByStatus(ctx context.Context, status string) ([]*models.Credit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+creditColumns+` FROM carbon_credits WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredits(rows)
}

// ListByOwner returns all credits owned by an account, newest first.
func (r *CreditRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+creditColumns+` FROM carbon_credits WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredits(rows)
}

func collectCredits(rows pgx.Rows) ([]*models.Credit, error) {
	var list []*models.Credit
	for rows.Next() {
		var c models.Credit
		if err := rows.Scan(&c.ID, &c.TokenID, &c.SiteID, &c.OwnerID, &c.Price, &c.Amount,
			&c.Vintage, &c.Region, &c.Status, &c.History, &c.VerifiedBy, &c.VerifiedDate,
			&c.TransferredAt, &c.RetiredAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
