package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroleaf/backend/internal/models"
)

type SiteRepo struct {
	pool *pgxpool.Pool
}

func NewSiteRepo(pool *pgxpool.Pool) *SiteRepo {
	return &SiteRepo{pool: pool}
}

func (r *SiteRepo) Create(ctx context.Context, s *models.Site) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO sites (id, name, region, owner_id, area_ha)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.ID, s.Name, s.Region, s.OwnerID, s.AreaHa).Scan(&s.CreatedAt)
}

func (r *SiteRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Site, error) {
	var s models.Site
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, region, owner_id, area_ha, created_at FROM sites WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Region, &s.OwnerID, &s.AreaHa, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ExistsTx checks site existence inside the engine's transaction; mint
// verifies the referenced site itself since the store enforces no
// foreign keys across collections.
func (r *SiteRepo) ExistsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sites WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *SiteRepo) List(ctx context.Context) ([]*models.Site, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, region, owner_id, area_ha, created_at FROM sites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Site
	for rows.Next() {
		var s models.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.Region, &s.OwnerID, &s.AreaHa, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}
