package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collection-payments/internal/domain"
	"collection-payments/internal/idempotency"
	"collection-payments/internal/processor"
	"collection-payments/internal/ratelimit"
	"collection-payments/internal/retry"
	"collection-payments/internal/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Charger issues one create-payment call per invocation.
type Charger interface {
	CreateCharge(ctx context.Context, p processor.ChargeParams) (*processor.Charge, error)
	Environment() string
}

type ChargeRepository interface {
	Create(ctx context.Context, c *domain.ChargeRecord) error
	GetByID(ctx context.Context, id string) (*domain.ChargeRecord, error)
}

type CollectionRepository interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Collection, error)
	AddToCurrentAmount(ctx context.Context, id string, amount decimal.Decimal) error
}

// Notifier accepts completed payments for delivery off the request path.
// Enqueue must not block.
type Notifier interface {
	Enqueue(event domain.PaymentCompleted)
}

type Limits struct {
	IP          int
	Email       int
	Fingerprint int
}

func DefaultLimits() Limits {
	return Limits{IP: 10, Email: 5, Fingerprint: 3}
}

type PaymentConfig struct {
	Currency   string
	AdminEmail string
	Limits     Limits
	Retry      retry.Policy
}

// overageFactor caps a charge at 110% of the collection target.
var overageFactor = decimal.RequireFromString("1.1")

type PaymentResult struct {
	Payment     *domain.ChargeRecord
	PaymentID   string
	ReceiptURL  string
	IsDuplicate bool
}

type PaymentService struct {
	cfg         PaymentConfig
	limiter     ratelimit.Limiter
	ledger      *idempotency.Ledger
	charger     Charger
	charges     ChargeRepository
	collections CollectionRepository
	notifier    Notifier
	now         func() time.Time
}

func NewPaymentService(
	cfg PaymentConfig,
	limiter ratelimit.Limiter,
	ledger *idempotency.Ledger,
	charger Charger,
	charges ChargeRepository,
	collections CollectionRepository,
	notifier Notifier,
) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &PaymentService{
		cfg:         cfg,
		limiter:     limiter,
		ledger:      ledger,
		charger:     charger,
		charges:     charges,
		collections: collections,
		notifier:    notifier,
		now:         time.Now,
	}
}

// SubmitPayment runs the full charge lifecycle. Every gate before the processor
// call is free and side-effect free apart from rate-limit counters and the ledger reservation.
func (s *PaymentService) SubmitPayment(ctx context.Context, req domain.ChargeRequest) (*PaymentResult, error) {
	if err := s.checkRateLimits(ctx, req); err != nil {
		return nil, err
	}

	amount, err := validator.ValidateChargeRequest(req)
	if err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}
	email := idempotency.NormalizeEmail(req.PayerEmail)
	name := strings.TrimSpace(req.PayerName)

	collection, err := s.loadCollection(ctx, req.CollectionSlug, amount)
	if err != nil {
		return nil, err
	}

	key := s.ledger.DeriveKey(collection.Slug, email, amount, idempotency.TokenPrefix(req.SourceID))
	logCtx := log.WithFields(log.Fields{
		"idempotency_key": key,
		"collection":      collection.Slug,
	})

	if result, err := s.acquire(ctx, logCtx, key, collection.ID, amount, email); result != nil || err != nil {
		return result, err
	}

	charge, err := s.charge(ctx, logCtx, key, req.SourceID, amount, email, collection)
	if errors.Is(err, errReservationLost) {
		return nil, newError(KindDuplicateInFlight, msgStillProcessing, err)
	}
	if err != nil {
		if ferr := s.ledger.MarkFailed(context.WithoutCancel(ctx), key); ferr != nil {
			logCtx.WithError(ferr).Error("Failed to mark idempotency record failed")
		}
		class := processor.Classify(err)
		return nil, newError(KindProcessor, class.Message, err)
	}

	return s.complete(context.WithoutCancel(ctx), logCtx, key, charge, amount, email, name, collection), nil
}

func (s *PaymentService) checkRateLimits(ctx context.Context, req domain.ChargeRequest) error {
	checks := []struct {
		key   string
		limit int
	}{
		{"payment:ip:" + req.ClientIP, s.cfg.Limits.IP},
		{"payment:email:" + idempotency.NormalizeEmail(req.PayerEmail), s.cfg.Limits.Email},
		{"payment:fingerprint:" + req.ClientIP + ":" + fingerprintAmount(req.Amount), s.cfg.Limits.Fingerprint},
	}

	for _, c := range checks {
		res := s.limiter.Check(ctx, c.key, c.limit)
		if res.Allowed {
			continue
		}
		wait := res.RetryAfter(s.now())
		if wait < time.Second {
			wait = time.Second
		}
		log.WithFields(log.Fields{
			"limit_key": c.key,
			"reset_at":  res.ResetAt,
		}).Warn("Payment rate limit exceeded")
		return &PaymentError{
			Kind:       KindRateLimited,
			Message:    fmt.Sprintf("Too many payment attempts. Please wait %d seconds before trying again.", int(wait.Seconds())),
			RetryAfter: wait,
		}
	}
	return nil
}

// fingerprintAmount canonicalises the amount so "25", "25.0" and "025" share a window.
func fingerprintAmount(raw string) string {
	raw = strings.TrimSpace(raw)
	if d, err := decimal.NewFromString(raw); err == nil {
		return d.StringFixed(2)
	}
	return raw
}

func (s *PaymentService) loadCollection(ctx context.Context, slug string, amount decimal.Decimal) (*domain.Collection, error) {
	collection, err := s.collections.GetBySlug(ctx, slug)
	if err != nil {
		log.WithError(err).WithField("collection", slug).Error("Failed to load collection")
		return nil, newError(KindPersistence, msgCollectionLookup, err)
	}
	if collection == nil {
		return nil, newError(KindCollectionState, msgNotFound, nil)
	}
	if !collection.IsActive {
		return nil, newError(KindCollectionState, msgInactive, nil)
	}
	if collection.TargetAmount.Valid && collection.TargetAmount.Decimal.IsPositive() {
		limit := collection.TargetAmount.Decimal.Mul(overageFactor)
		if collection.CurrentAmount.Add(amount).GreaterThan(limit) {
			log.WithFields(log.Fields{
				"collection": slug,
				"current":    collection.CurrentAmount.StringFixed(2),
				"target":     collection.TargetAmount.Decimal.StringFixed(2),
				"amount":     amount.StringFixed(2),
			}).Warn("Payment would exceed collection target")
			return nil, newError(KindCollectionState, msgExceedsTarget, nil)
		}
	}
	return collection, nil
}

// acquire applies ledger policy. A non-nil result means the payment already
// completed; a nil result and nil error means this caller holds the key.
func (s *PaymentService) acquire(ctx context.Context, logCtx *log.Entry, key, collectionID string, amount decimal.Decimal, email string) (*PaymentResult, error) {
	rec, err := s.ledger.Lookup(ctx, key)
	if err != nil {
		logCtx.WithError(err).Error("Idempotency lookup failed")
		return nil, newError(KindPersistence, msgInitFailed, err)
	}

	if rec != nil {
		switch rec.Status {
		case domain.IdempotencyCompleted:
			return s.duplicate(ctx, logCtx, rec)
		case domain.IdempotencyPending:
			if !s.ledger.IsStale(rec) {
				logCtx.Info("Rejecting in-flight duplicate payment")
				return nil, newError(KindDuplicateInFlight, msgStillProcessing, nil)
			}
			reclaimed, err := s.ledger.Reclaim(ctx, key)
			if err != nil {
				logCtx.WithError(err).Error("Failed to reclaim stale idempotency record")
				return nil, newError(KindPersistence, msgInitFailed, err)
			}
			if reclaimed {
				logCtx.WithField("updated_at", rec.UpdatedAt).Warn("Reclaimed stale pending payment")
			}
		}
	}

	acquired, err := s.ledger.Reserve(ctx, key, collectionID, amount, email)
	if err != nil {
		logCtx.WithError(err).Error("Idempotency reserve failed")
		return nil, newError(KindPersistence, msgInitFailed, err)
	}
	if acquired {
		return nil, nil
	}

	// Lost the race to a concurrent submission with the same key.
	rec, err = s.ledger.Lookup(ctx, key)
	if err != nil {
		logCtx.WithError(err).Error("Idempotency lookup failed")
		return nil, newError(KindPersistence, msgInitFailed, err)
	}
	if rec != nil && rec.Status == domain.IdempotencyCompleted {
		return s.duplicate(ctx, logCtx, rec)
	}
	logCtx.Info("Rejecting in-flight duplicate payment")
	return nil, newError(KindDuplicateInFlight, msgStillProcessing, nil)
}

func (s *PaymentService) duplicate(ctx context.Context, logCtx *log.Entry, rec *domain.IdempotencyRecord) (*PaymentResult, error) {
	result := &PaymentResult{PaymentID: rec.ChargeID.String, IsDuplicate: true}
	if !rec.ChargeID.Valid {
		logCtx.Warn("Completed idempotency record has no linked charge")
		return result, nil
	}

	charge, err := s.charges.GetByID(ctx, rec.ChargeID.String)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load charge for duplicate payment")
	}
	if charge != nil {
		result.Payment = charge
		result.ReceiptURL = charge.ReceiptURL
	}
	logCtx.WithField("charge_id", rec.ChargeID.String).Info("Returning already completed payment")
	return result, nil
}

func (s *PaymentService) charge(ctx context.Context, logCtx *log.Entry, key, sourceID string, amount decimal.Decimal, email string, collection *domain.Collection) (*processor.Charge, error) {
	params := processor.ChargeParams{
		SourceID:       sourceID,
		IdempotencyKey: key,
		AmountCents:    validator.ToCents(amount),
		Currency:       s.cfg.Currency,
		BuyerEmail:     email,
		Note:           fmt.Sprintf("Payment for %s", collection.Title),
	}

	var charge *processor.Charge
	attempt := 0
	m := retry.NewManager(s.cfg.Retry, isRetryableCharge)
	err := m.Execute(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if err := s.refresh(ctx, logCtx, key); err != nil {
				return err
			}
		}
		c, err := s.charger.CreateCharge(ctx, params)
		if err != nil {
			return err
		}
		charge = c
		return nil
	}, func(attempt int, err error) {
		logCtx.WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": s.cfg.Retry.MaxAttempts,
			"error":        err,
		}).Warn("Charge attempt failed, retrying")
	})
	if err != nil {
		logCtx.WithFields(log.Fields{
			"attempts": m.Attempts(),
			"error":    err,
		}).Error("Charge failed")
		return nil, err
	}
	return charge, nil
}

// superseded handles a charge whose key was taken over by another submission.
// Both share the processor idempotency key, so the new holder records the
// payment and this caller only reports it.
func (s *PaymentService) superseded(ctx context.Context, logCtx *log.Entry, key string, charge *processor.Charge) *PaymentResult {
	logCtx.Warn("Idempotency record no longer pending after charge, leaving completion to its holder")
	rec, err := s.ledger.Lookup(ctx, key)
	if err != nil {
		logCtx.WithError(err).Error("Idempotency lookup failed")
	}
	if rec != nil && rec.Status == domain.IdempotencyCompleted {
		result, _ := s.duplicate(ctx, logCtx, rec)
		return result
	}
	return &PaymentResult{ReceiptURL: charge.ReceiptURL, IsDuplicate: true}
}

// errReservationLost means the key was reclaimed by another submission while
// this one was between attempts; the new holder reuses the processor key.
var errReservationLost = errors.New("idempotency reservation lost")

func isRetryableCharge(err error) bool {
	return !errors.Is(err, errReservationLost) && processor.IsRetryable(err)
}

// refresh touches the pending record before a retry so the key is not
// reclaimed as abandoned while this request still holds it.
func (s *PaymentService) refresh(ctx context.Context, logCtx *log.Entry, key string) error {
	held, err := s.ledger.Touch(ctx, key)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to refresh idempotency record before retry")
		return nil
	}
	if !held {
		logCtx.Warn("Idempotency record no longer pending, abandoning retries")
		return errReservationLost
	}
	return nil
}

// complete persists a successful charge. Failures here are logged only: the
// processor has already moved the money.
func (s *PaymentService) complete(ctx context.Context, logCtx *log.Entry, key string, charge *processor.Charge, amount decimal.Decimal, email, name string, collection *domain.Collection) *PaymentResult {
	record := &domain.ChargeRecord{
		ID:                 uuid.NewString(),
		CollectionID:       collection.ID,
		ProcessorPaymentID: charge.ID,
		Amount:             amount,
		Currency:           s.cfg.Currency,
		PayerEmail:         email,
		PayerName:          name,
		Status:             domain.ChargeCompleted,
		ReceiptURL:         charge.ReceiptURL,
		Metadata: domain.ChargeMetadata{
			Environment:    s.charger.Environment(),
			IdempotencyKey: key,
		},
		CreatedAt: s.now(),
	}
	logCtx = logCtx.WithFields(log.Fields{
		"charge_id":            record.ID,
		"processor_payment_id": charge.ID,
	})

	held, err := s.ledger.MarkCompleted(ctx, key, record.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to mark idempotency record completed")
	} else if !held {
		return s.superseded(ctx, logCtx, key, charge)
	}

	if err := s.charges.Create(ctx, record); err != nil {
		logCtx.WithError(err).Error("Failed to persist charge record after successful charge")
	}
	if err := s.collections.AddToCurrentAmount(ctx, collection.ID, amount); err != nil {
		logCtx.WithError(err).Error("Failed to update collection total")
	}

	admin := s.cfg.AdminEmail
	if collection.ContactEmail.Valid && collection.ContactEmail.String != "" {
		admin = collection.ContactEmail.String
	}
	s.notifier.Enqueue(domain.PaymentCompleted{
		ChargeID:           record.ID,
		ProcessorPaymentID: charge.ID,
		CollectionID:       collection.ID,
		CollectionTitle:    collection.Title,
		Amount:             amount,
		Currency:           s.cfg.Currency,
		PayerEmail:         email,
		PayerName:          name,
		ReceiptURL:         charge.ReceiptURL,
		AdminEmail:         admin,
		CompletedAt:        record.CreatedAt,
	})

	logCtx.WithField("amount", amount.StringFixed(2)).Info("Payment completed")
	return &PaymentResult{
		Payment:    record,
		PaymentID:  record.ID,
		ReceiptURL: charge.ReceiptURL,
	}
}
