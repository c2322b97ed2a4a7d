package idempotency

import (
	"context"
	"fmt"
	"time"

	"collection-payments/internal/domain"

	"github.com/shopspring/decimal"
)

// Store is the durable backing for the ledger. Reserve must be atomic: it inserts
// a pending record, or turns a failed record back into pending, and reports
// whether it did either. A conflict with a pending or completed record changes
// nothing, timestamps included: only the holder of a key refreshes it, through Touch.
// Complete and Touch only act on pending records and report whether they did.
type Store interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Reserve(ctx context.Context, rec domain.IdempotencyRecord) (bool, error)
	Complete(ctx context.Context, key, chargeID string) (bool, error)
	Touch(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	FailIfStale(ctx context.Context, key string, before time.Time) (bool, error)
}

type Ledger struct {
	store      Store
	bucket     time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewLedger(store Store, bucket, staleAfter time.Duration) *Ledger {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Ledger{store: store, bucket: bucket, staleAfter: staleAfter, now: time.Now}
}

// DeriveKey keys a submission on the current time bucket.
func (l *Ledger) DeriveKey(collectionSlug, email string, amount decimal.Decimal, tokenPrefix string) string {
	return DeriveKey(collectionSlug, email, amount, tokenPrefix, l.now(), l.bucket)
}

// Lookup returns nil when no record exists for key.
func (l *Ledger) Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return rec, nil
}

// Reserve claims key for a new attempt. It returns false when another
// non-failed record already holds the key.
func (l *Ledger) Reserve(ctx context.Context, key, collectionID string, amount decimal.Decimal, email string) (bool, error) {
	ok, err := l.store.Reserve(ctx, domain.IdempotencyRecord{
		Key:          key,
		CollectionID: collectionID,
		Amount:       amount,
		PayerEmail:   NormalizeEmail(email),
		Status:       domain.IdempotencyPending,
	})
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

// MarkCompleted links chargeID to a pending key. It returns false when the
// record is no longer pending, i.e. the caller lost the key to a reclaim.
func (l *Ledger) MarkCompleted(ctx context.Context, key, chargeID string) (bool, error) {
	ok, err := l.store.Complete(ctx, key, chargeID)
	if err != nil {
		return false, fmt.Errorf("idempotency complete: %w", err)
	}
	return ok, nil
}

// Touch keeps a pending key fresh while its holder is still working on it.
// It returns false when the key is no longer pending.
func (l *Ledger) Touch(ctx context.Context, key string) (bool, error) {
	ok, err := l.store.Touch(ctx, key)
	if err != nil {
		return false, fmt.Errorf("idempotency touch: %w", err)
	}
	return ok, nil
}

func (l *Ledger) MarkFailed(ctx context.Context, key string) error {
	if err := l.store.Fail(ctx, key); err != nil {
		return fmt.Errorf("idempotency fail: %w", err)
	}
	return nil
}

// IsStale reports whether a pending record has outlived the staleness threshold.
func (l *Ledger) IsStale(rec *domain.IdempotencyRecord) bool {
	if rec == nil || rec.Status != domain.IdempotencyPending {
		return false
	}
	return l.now().Sub(rec.UpdatedAt) > l.staleAfter
}

// Reclaim moves an abandoned pending record to failed so the key can be reserved again.
// It returns false if the record was not pending or not stale by the time the store saw it.
func (l *Ledger) Reclaim(ctx context.Context, key string) (bool, error) {
	ok, err := l.store.FailIfStale(ctx, key, l.now().Add(-l.staleAfter))
	if err != nil {
		return false, fmt.Errorf("idempotency reclaim: %w", err)
	}
	return ok, nil
}

func (l *Ledger) StaleAfter() time.Duration { return l.staleAfter }
