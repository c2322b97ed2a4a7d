package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func newTestManager(p Policy) (*Manager, *[]time.Duration) {
	var waits []time.Duration
	m := NewManager(p, isTransient)
	m.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return m, &waits
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(40))
}

func TestExecute_RetriesUpToBound(t *testing.T) {
	m, waits := newTestManager(DefaultPolicy())

	calls := 0
	var retried []int
	err := m.Execute(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, func(attempt int, err error) {
		retried = append(retried, attempt)
		assert.ErrorIs(t, err, errTransient)
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, m.Attempts())
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	assert.Equal(t, StateFailed, m.State())
}

func TestExecute_NonRetryableShortCircuits(t *testing.T) {
	m, waits := newTestManager(DefaultPolicy())

	calls := 0
	err := m.Execute(context.Background(), func(context.Context) error {
		calls++
		return errPermanent
	}, nil)

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestExecute_SucceedsAfterRetry(t *testing.T) {
	m, waits := newTestManager(DefaultPolicy())

	calls := 0
	err := m.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, *waits, 1)
	assert.Equal(t, StateSucceeded, m.State())
}

func TestExecute_CapsDelay(t *testing.T) {
	p := Policy{MaxAttempts: 6, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
	m, waits := newTestManager(p)

	_ = m.Execute(context.Background(), func(context.Context) error { return errTransient }, nil)

	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	}, *waits)
}

func TestExecute_ContextCancelledDuringWait(t *testing.T) {
	m := NewManager(Policy{MaxAttempts: 3, BaseDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}, isTransient)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := m.Execute(ctx, func(context.Context) error {
		calls++
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateFailed, m.State())
}

func TestNewManager_MinimumOneAttempt(t *testing.T) {
	m, _ := newTestManager(Policy{MaxAttempts: 0})

	calls := 0
	_ = m.Execute(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, nil)
	assert.Equal(t, 1, calls)
}
