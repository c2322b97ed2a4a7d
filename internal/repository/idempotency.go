package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"collection-payments/internal/domain"
)

type PostgresIdempotencyRepository struct {
	db *sql.DB
}

func NewPostgresIdempotencyRepository(db *sql.DB) *PostgresIdempotencyRepository {
	return &PostgresIdempotencyRepository{db: db}
}

func (r *PostgresIdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `SELECT key, collection_id, amount, payer_email, status, charge_id, created_at, updated_at FROM idempotency_records WHERE key = $1`

	var rec domain.IdempotencyRecord
	var status string
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.CollectionID, &rec.Amount, &rec.PayerEmail, &status, &rec.ChargeID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	rec.Status = domain.IdempotencyStatus(status)
	return &rec, nil
}

// Reserve inserts a pending row or revives a failed one in a single statement.
// Conflicting pending/completed rows are left untouched and no row is returned.
func (r *PostgresIdempotencyRepository) Reserve(ctx context.Context, rec domain.IdempotencyRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
        INSERT INTO idempotency_records (key, collection_id, amount, payer_email, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'pending', NOW(), NOW())
        ON CONFLICT (key) DO UPDATE SET
            status = 'pending',
            charge_id = NULL,
            updated_at = NOW()
        WHERE idempotency_records.status = 'failed'
        RETURNING key;
    `

	var key string
	err := r.db.QueryRowContext(ctx, query, rec.Key, rec.CollectionID, rec.Amount, rec.PayerEmail).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return true, nil
}

// Complete only moves a pending record. It returns false when the caller no
// longer holds the key.
func (r *PostgresIdempotencyRepository) Complete(ctx context.Context, key, chargeID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `UPDATE idempotency_records SET status = 'completed', charge_id = $2, updated_at = NOW() WHERE key = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, key, chargeID)
	if err != nil {
		return false, fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read complete result: %w", err)
	}
	return n > 0, nil
}

// Touch refreshes updated_at on a pending record so it does not look abandoned.
func (r *PostgresIdempotencyRepository) Touch(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `UPDATE idempotency_records SET updated_at = NOW() WHERE key = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("failed to touch idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read touch result: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresIdempotencyRepository) Fail(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `UPDATE idempotency_records SET status = 'failed', updated_at = NOW() WHERE key = $1 AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to mark idempotency record failed: %w", err)
	}
	return nil
}

func (r *PostgresIdempotencyRepository) FailIfStale(ctx context.Context, key string, before time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `UPDATE idempotency_records SET status = 'failed', updated_at = NOW() WHERE key = $1 AND status = 'pending' AND updated_at < $2`
	res, err := r.db.ExecContext(ctx, query, key, before)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reclaim result: %w", err)
	}
	return n > 0, nil
}
