package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"collection-payments/internal/domain"
)

type PostgresChargeRepository struct {
	db *sql.DB
}

func NewPostgresChargeRepository(db *sql.DB) *PostgresChargeRepository {
	return &PostgresChargeRepository{db: db}
}

func (r *PostgresChargeRepository) Create(ctx context.Context, c *domain.ChargeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode charge metadata: %w", err)
	}

	const query = `
        INSERT INTO payments (id, collection_id, processor_payment_id, amount, currency, payer_email, payer_name, status, receipt_url, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at;
    `

	err = r.db.QueryRowContext(ctx, query,
		c.ID, c.CollectionID, c.ProcessorPaymentID, c.Amount, c.Currency,
		c.PayerEmail, c.PayerName, string(c.Status), nullIfEmpty(c.ReceiptURL), metadata,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *PostgresChargeRepository) GetByID(ctx context.Context, id string) (*domain.ChargeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
        SELECT id, collection_id, processor_payment_id, amount, currency, payer_email, payer_name, status, receipt_url, metadata, created_at
        FROM payments WHERE id = $1
    `

	var c domain.ChargeRecord
	var status string
	var receiptURL sql.NullString
	var metadata []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.CollectionID, &c.ProcessorPaymentID, &c.Amount, &c.Currency,
		&c.PayerEmail, &c.PayerName, &status, &receiptURL, &metadata, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	c.Status = domain.ChargeStatus(status)
	c.ReceiptURL = receiptURL.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
		}
	}
	return &c, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
