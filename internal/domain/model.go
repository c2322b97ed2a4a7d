package domain

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeRequest is what a payer submits for a collection.
type ChargeRequest struct {
	SourceID       string `json:"source_id"`
	CollectionSlug string `json:"collection_slug"`
	Amount         string `json:"amount"`
	PayerEmail     string `json:"payer_email"`
	PayerName      string `json:"payer_name"`
	ClientIP       string `json:"-"`
}

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

type IdempotencyRecord struct {
	Key          string
	CollectionID string
	Amount       decimal.Decimal
	PayerEmail   string
	Status       IdempotencyStatus
	ChargeID     sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeCompleted ChargeStatus = "completed"
	ChargeFailed    ChargeStatus = "failed"
	ChargeRefunded  ChargeStatus = "refunded"
)

// ChargeMetadata is stored as JSON next to the charge.
type ChargeMetadata struct {
	Environment    string `json:"environment"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ChargeRecord struct {
	ID                 string          `json:"id"`
	CollectionID       string          `json:"collection_id"`
	ProcessorPaymentID string          `json:"processor_payment_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PayerEmail         string          `json:"payer_email"`
	PayerName          string          `json:"payer_name"`
	Status             ChargeStatus    `json:"status"`
	ReceiptURL         string          `json:"receipt_url,omitempty"`
	Metadata           ChargeMetadata  `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
}

type Collection struct {
	ID            string
	Slug          string
	Title         string
	TargetAmount  decimal.NullDecimal
	CurrentAmount decimal.Decimal
	IsActive      bool
	ContactEmail  sql.NullString
}

// PaymentCompleted is published after a successful charge and drives receipts and admin alerts.
type PaymentCompleted struct {
	ChargeID           string          `json:"charge_id"`
	ProcessorPaymentID string          `json:"processor_payment_id"`
	CollectionID       string          `json:"collection_id"`
	CollectionTitle    string          `json:"collection_title"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PayerEmail         string          `json:"payer_email"`
	PayerName          string          `json:"payer_name"`
	ReceiptURL         string          `json:"receipt_url,omitempty"`
	AdminEmail         string          `json:"admin_email,omitempty"`
	CompletedAt        time.Time       `json:"completed_at"`
}

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

type NotificationKind string

const (
	NotificationReceipt    NotificationKind = "receipt"
	NotificationAdminAlert NotificationKind = "admin_alert"
)

type NotificationLog struct {
	ID             string
	ChargeID       string
	Kind           NotificationKind
	RecipientEmail string
	Subject        string
	Status         NotificationStatus
	ErrorMessage   sql.NullString
}
