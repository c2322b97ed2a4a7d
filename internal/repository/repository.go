package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"collection-payments/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const queryTimeout = 5 * time.Second

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

func (r *PostgresNotificationRepository) SaveLog(ctx context.Context, l domain.NotificationLog) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	log.WithFields(log.Fields{
		"charge_id":       l.ChargeID,
		"kind":            l.Kind,
		"recipient_email": l.RecipientEmail,
		"status":          l.Status,
	}).Debug("Saving notification log")

	const query = `
        INSERT INTO notification_logs (id, charge_id, kind, recipient_email, subject, status, error_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `

	if _, err := r.db.ExecContext(ctx, query, l.ID, l.ChargeID, string(l.Kind), l.RecipientEmail, l.Subject, string(l.Status), nullStringOrNil(l.ErrorMessage)); err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}

func nullStringOrNil(ns sql.NullString) interface{} {
	if ns.Valid {
		return ns.String
	}
	return nil
}
