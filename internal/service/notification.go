package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"collection-payments/internal/domain"
	"collection-payments/internal/retry"
	"collection-payments/internal/sender"
	"collection-payments/internal/validator"

	log "github.com/sirupsen/logrus"
)

// NotificationRepository defines the interface for notification log data access
type NotificationRepository interface {
	SaveLog(ctx context.Context, log domain.NotificationLog) error
}

// DeliveryResult is the outcome for a single recipient.
type DeliveryResult struct {
	Kind      domain.NotificationKind
	Recipient string
	Err       error
}

type notificationService struct {
	emailSender sender.EmailSender
	repository  NotificationRepository
	policy      retry.Policy
}

func NewNotificationService(emailSender sender.EmailSender, repository NotificationRepository, policy retry.Policy) *notificationService {
	return &notificationService{emailSender: emailSender, repository: repository, policy: policy}
}

// ProcessPaymentCompleted sends the payer receipt and, when an admin recipient is
// known, the admin alert. Each recipient is attempted independently.
func (s *notificationService) ProcessPaymentCompleted(ctx context.Context, event domain.PaymentCompleted) ([]DeliveryResult, error) {
	if err := validator.ValidatePaymentCompleted(event); err != nil {
		log.WithFields(log.Fields{
			"error":     err,
			"charge_id": event.ChargeID,
		}).Error("Payment completed event validation failed")
		return nil, fmt.Errorf("validation error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results := []DeliveryResult{
		s.deliver(ctx, event, domain.NotificationReceipt, receiptMessage(event)),
	}
	if event.AdminEmail != "" {
		results = append(results, s.deliver(ctx, event, domain.NotificationAdminAlert, adminMessage(event)))
	}
	return results, nil
}

func (s *notificationService) deliver(ctx context.Context, event domain.PaymentCompleted, kind domain.NotificationKind, msg sender.Message) DeliveryResult {
	logCtx := log.WithFields(log.Fields{
		"charge_id": event.ChargeID,
		"kind":      kind,
		"email":     msg.To,
	})

	m := retry.NewManager(s.policy, isRetryableSend)
	err := m.Execute(ctx, func(ctx context.Context) error {
		return s.emailSender.SendEmail(ctx, msg)
	}, func(attempt int, err error) {
		logCtx.WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": s.policy.MaxAttempts,
			"error":        err,
		}).Warn("Failed to send email, retrying...")
	})

	entry := domain.NotificationLog{
		ChargeID:       event.ChargeID,
		Kind:           kind,
		RecipientEmail: msg.To,
		Subject:        msg.Subject,
	}
	if err != nil {
		logCtx.WithError(err).Error("Failed to send notification email")
		entry.Status = domain.NotificationFailed
		entry.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	} else {
		if m.Attempts() > 1 {
			logCtx.WithField("attempt", m.Attempts()).Info("Email sent successfully after retry")
		}
		logCtx.Info("Notification email sent")
		entry.Status = domain.NotificationSent
	}

	if serr := s.repository.SaveLog(ctx, entry); serr != nil {
		logCtx.WithError(serr).Error("Failed to save notification log to database")
	}

	return DeliveryResult{Kind: kind, Recipient: msg.To, Err: err}
}

func isRetryableSend(err error) bool {
	return !errors.Is(err, sender.ErrSenderDisabled) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func receiptMessage(e domain.PaymentCompleted) sender.Message {
	body := fmt.Sprintf(
		"Hi %s,\n\nThank you! We received your payment of $%s %s for %s.\nPayment reference: %s\n",
		e.PayerName, e.Amount.StringFixed(2), e.Currency, e.CollectionTitle, e.ChargeID,
	)
	if e.ReceiptURL != "" {
		body += fmt.Sprintf("Receipt: %s\n", e.ReceiptURL)
	}
	body += "\nIf you have any questions, just reply to this email.\n"

	return sender.Message{
		To:      e.PayerEmail,
		ReplyTo: e.AdminEmail,
		Subject: fmt.Sprintf("Payment received: %s", e.CollectionTitle),
		Body:    body,
	}
}

func adminMessage(e domain.PaymentCompleted) sender.Message {
	return sender.Message{
		To:      e.AdminEmail,
		ReplyTo: e.PayerEmail,
		Subject: fmt.Sprintf("New payment for %s: $%s", e.CollectionTitle, e.Amount.StringFixed(2)),
		Body: fmt.Sprintf(
			"%s (%s) paid $%s %s toward %s.\nPayment reference: %s\nProcessor payment: %s\nTime: %s\n",
			e.PayerName, e.PayerEmail, e.Amount.StringFixed(2), e.Currency, e.CollectionTitle,
			e.ChargeID, e.ProcessorPaymentID, e.CompletedAt.UTC().Format(time.RFC1123),
		),
	}
}
