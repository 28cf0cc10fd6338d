package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"crashpit/internal/metrics"
)

const (
	persistQueueSize   = 1024
	persistMaxAttempts = 5
	persistBaseBackoff = 100 * time.Millisecond
)

type persistOp struct {
	name string
	fn   func(ctx context.Context) error
}

// persister applies durable writes off the request and tick paths. Ops
// are retried with backoff; settlement writes are status-guarded and
// balance writes read the live balance when they run, so a delayed or
// re-queued completion cannot corrupt state. A store outage therefore
// degrades to "persistence lags", never to a stalled round.
type persister struct {
	queue chan persistOp
	log   *zap.Logger
}

func newPersister(log *zap.Logger) *persister {
	return &persister{
		queue: make(chan persistOp, persistQueueSize),
		log:   log,
	}
}

func (p *persister) enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case p.queue <- persistOp{name: name, fn: fn}:
	default:
		p.log.Error("persist queue full, dropping write", zap.String("op", name))
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-p.queue:
			p.apply(ctx, op)
		}
	}
}

func (p *persister) apply(ctx context.Context, op persistOp) {
	var err error
	for attempt := 0; attempt < persistMaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.PersistRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(persistBaseBackoff << attempt):
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = op.fn(opCtx)
		cancel()
		if err == nil {
			return
		}
	}

	// Re-queue so the write lands once the store recovers; the next
	// settlement opportunity drains it.
	p.log.Warn("durable write failing, re-queued",
		zap.String("op", op.name), zap.Error(err))
	p.enqueue(op.name, op.fn)
}
