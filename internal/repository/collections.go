package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collection-payments/internal/domain"

	"github.com/shopspring/decimal"
)

type PostgresCollectionRepository struct {
	db *sql.DB
}

func NewPostgresCollectionRepository(db *sql.DB) *PostgresCollectionRepository {
	return &PostgresCollectionRepository{db: db}
}

func (r *PostgresCollectionRepository) GetBySlug(ctx context.Context, slug string) (*domain.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `SELECT id, slug, title, target_amount, current_amount, is_active, contact_email FROM collections WHERE slug = $1`

	var c domain.Collection
	err := r.db.QueryRowContext(ctx, query, slug).Scan(
		&c.ID, &c.Slug, &c.Title, &c.TargetAmount, &c.CurrentAmount, &c.IsActive, &c.ContactEmail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &c, nil
}

// AddToCurrentAmount is additive in SQL so concurrent payments never lose an update.
func (r *PostgresCollectionRepository) AddToCurrentAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `UPDATE collections SET current_amount = current_amount + $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("failed to update collection total: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update collection total: collection %s not found", id)
	}
	return nil
}
