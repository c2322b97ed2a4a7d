package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"collection-payments/internal/domain"
	"collection-payments/internal/service"

	log "github.com/sirupsen/logrus"
)

// NotificationService defines the interface for notification business logic
type NotificationService interface {
	ProcessPaymentCompleted(ctx context.Context, event domain.PaymentCompleted) ([]service.DeliveryResult, error)
}

type paymentCompletedHandler struct {
	notificationService NotificationService
}

func NewPaymentCompletedHandler(notificationService NotificationService) *paymentCompletedHandler {
	return &paymentCompletedHandler{notificationService: notificationService}
}

// HandleMessage decodes one payment_completed message. Per-recipient send
// failures are already logged and recorded by the service.
func (h *paymentCompletedHandler) HandleMessage(ctx context.Context, message []byte) error {
	var event domain.PaymentCompleted
	if err := json.Unmarshal(message, &event); err != nil {
		return fmt.Errorf("failed to decode payment completed event: %w", err)
	}
	return h.Process(ctx, event)
}

// Process has the dispatcher.Handler signature so it can run in-process
// when no broker is configured.
func (h *paymentCompletedHandler) Process(ctx context.Context, event domain.PaymentCompleted) error {
	results, err := h.notificationService.ProcessPaymentCompleted(ctx, event)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.WithFields(log.Fields{
		"charge_id": event.ChargeID,
		"sent":      len(results) - failed,
		"failed":    failed,
	}).Info("Payment notifications processed")
	return nil
}
