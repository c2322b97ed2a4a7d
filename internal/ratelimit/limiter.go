package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	PaymentWindow = time.Minute
	AuthWindow    = 15 * time.Minute

	DefaultCacheSize = 10000
)

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, rounded up to whole seconds.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// Limiter counts hits per key inside a fixed window.
type Limiter interface {
	Check(ctx context.Context, key string, limit int) Result
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in a bounded LRU whose entries expire with the window.
// It is per-process only.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
	period  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(period time.Duration, size int) *MemoryLimiter {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryLimiter{
		windows: expirable.NewLRU[string, *window](size, nil, period),
		period:  period,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Check(_ context.Context, key string, limit int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		l.windows.Add(key, w)
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Len reports how many keys are currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windows.Len()
}
