// Package testutil provides in-memory stores that mirror the Postgres
// repositories' semantics for unit tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"collection-payments/internal/domain"

	"github.com/shopspring/decimal"
)

// IdempotencyStore mirrors the conditional upsert of the Postgres store.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
	Now     func() time.Time

	GetErr     error
	ReserveErr error
	TouchErr   error

	touches int
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]*domain.IdempotencyRecord), Now: time.Now}
}

// Put stores rec as-is, timestamps included.
func (s *IdempotencyStore) Put(rec domain.IdempotencyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := rec
	s.records[rec.Key] = &r
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	r := *rec
	return &r, nil
}

func (s *IdempotencyStore) Reserve(_ context.Context, rec domain.IdempotencyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReserveErr != nil {
		return false, s.ReserveErr
	}
	now := s.Now()
	existing, ok := s.records[rec.Key]
	if ok && existing.Status != domain.IdempotencyFailed {
		return false, nil
	}
	r := rec
	r.Status = domain.IdempotencyPending
	r.ChargeID = sql.NullString{}
	r.UpdatedAt = now
	r.CreatedAt = now
	if ok {
		r.CreatedAt = existing.CreatedAt
	}
	s.records[rec.Key] = &r
	return true, nil
}

func (s *IdempotencyStore) Complete(_ context.Context, key, chargeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Status != domain.IdempotencyPending {
		return false, nil
	}
	rec.Status = domain.IdempotencyCompleted
	rec.ChargeID = sql.NullString{String: chargeID, Valid: true}
	rec.UpdatedAt = s.Now()
	return true, nil
}

func (s *IdempotencyStore) Touch(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TouchErr != nil {
		return false, s.TouchErr
	}
	rec, ok := s.records[key]
	if !ok || rec.Status != domain.IdempotencyPending {
		return false, nil
	}
	rec.UpdatedAt = s.Now()
	s.touches++
	return true, nil
}

// Touches reports how many successful Touch calls the store has seen.
func (s *IdempotencyStore) Touches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches
}

func (s *IdempotencyStore) Fail(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return errors.New("idempotency record not found")
	}
	if rec.Status != domain.IdempotencyPending {
		return nil
	}
	rec.Status = domain.IdempotencyFailed
	rec.UpdatedAt = s.Now()
	return nil
}

func (s *IdempotencyStore) FailIfStale(_ context.Context, key string, before time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Status != domain.IdempotencyPending || !rec.UpdatedAt.Before(before) {
		return false, nil
	}
	rec.Status = domain.IdempotencyFailed
	rec.UpdatedAt = s.Now()
	return true, nil
}

// Record returns a copy of the record for key, or nil.
func (s *IdempotencyStore) Record(key string) *domain.IdempotencyRecord {
	rec, _ := s.Get(context.Background(), key)
	return rec
}

type ChargeStore struct {
	mu      sync.Mutex
	charges map[string]domain.ChargeRecord

	CreateErr error
}

func NewChargeStore() *ChargeStore {
	return &ChargeStore{charges: make(map[string]domain.ChargeRecord)}
}

func (s *ChargeStore) Create(_ context.Context, c *domain.ChargeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.charges[c.ID] = *c
	return nil
}

func (s *ChargeStore) GetByID(_ context.Context, id string) (*domain.ChargeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *ChargeStore) All() []domain.ChargeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChargeRecord, 0, len(s.charges))
	for _, c := range s.charges {
		out = append(out, c)
	}
	return out
}

type CollectionStore struct {
	mu          sync.Mutex
	collections map[string]*domain.Collection

	AddErr error
}

func NewCollectionStore(cols ...domain.Collection) *CollectionStore {
	s := &CollectionStore{collections: make(map[string]*domain.Collection)}
	for _, c := range cols {
		col := c
		s.collections[c.Slug] = &col
	}
	return s
}

func (s *CollectionStore) GetBySlug(_ context.Context, slug string) (*domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[slug]
	if !ok {
		return nil, nil
	}
	col := *c
	return &col, nil
}

func (s *CollectionStore) AddToCurrentAmount(_ context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	for _, c := range s.collections {
		if c.ID == id {
			c.CurrentAmount = c.CurrentAmount.Add(amount)
			return nil
		}
	}
	return errors.New("collection not found")
}

func (s *CollectionStore) Current(slug string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collections[slug].CurrentAmount
}
