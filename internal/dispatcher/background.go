package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collection-payments/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Handler processes one completed payment off the request path.
type Handler func(ctx context.Context, event domain.PaymentCompleted) error

// Background is a bounded in-process task queue. Enqueue never blocks: when the
// queue is full the event is dropped and logged.
type Background struct {
	tasks   chan domain.PaymentCompleted
	handler Handler
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewBackground(handler Handler, workers, queueSize int, timeout time.Duration) *Background {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	b := &Background{
		tasks:   make(chan domain.PaymentCompleted, queueSize),
		handler: handler,
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	return b
}

func (b *Background) Enqueue(event domain.PaymentCompleted) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.WithField("charge_id", event.ChargeID).Warn("Notification queue closed, dropping event")
		return
	}
	select {
	case b.tasks <- event:
	default:
		log.WithField("charge_id", event.ChargeID).Error("Notification queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (b *Background) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Background) work() {
	defer b.wg.Done()
	for event := range b.tasks {
		b.run(event)
	}
}

func (b *Background) run(event domain.PaymentCompleted) {
	logCtx := log.WithField("charge_id", event.ChargeID)
	defer func() {
		if r := recover(); r != nil {
			logCtx.WithField("panic", fmt.Sprint(r)).Error("Notification task panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.handler(ctx, event); err != nil {
		logCtx.WithError(err).Error("Notification task failed")
	}
}
