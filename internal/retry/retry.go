package retry

import (
	"context"
	"math"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateEvaluating State = "evaluating"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
	}
}

// Delay is the wait before the attempt following attempt (1-based):
// min(base * multiplier^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Manager runs one logical operation with bounded exponential backoff.
// It is not safe for concurrent use; create one per in-flight operation.
type Manager struct {
	policy    Policy
	retryable func(error) bool
	wait      func(ctx context.Context, d time.Duration) error

	state    State
	attempts int
}

func NewManager(policy Policy, retryable func(error) bool) *Manager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Manager{
		policy:    policy,
		retryable: retryable,
		wait:      sleep,
		state:     StateIdle,
	}
}

func (m *Manager) State() State   { return m.state }
func (m *Manager) Attempts() int  { return m.attempts }
func (m *Manager) Policy() Policy { return m.policy }

// Execute calls op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. onRetry, if set, is called before each backoff wait.
// The last error is returned unchanged. A cancelled ctx stops the wait.
func (m *Manager) Execute(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	m.attempts = 0
	for {
		m.attempts++
		m.state = StateAttempting

		err := op(ctx)
		if err == nil {
			m.state = StateSucceeded
			return nil
		}

		m.state = StateEvaluating
		if m.attempts >= m.policy.MaxAttempts || !m.retryable(err) {
			m.state = StateFailed
			return err
		}

		if onRetry != nil {
			onRetry(m.attempts, err)
		}
		if werr := m.wait(ctx, m.policy.Delay(m.attempts)); werr != nil {
			m.state = StateFailed
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
