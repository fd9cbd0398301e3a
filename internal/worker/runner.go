package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/metrics"
	"github.com/kiranshivaraju/modeltrain/internal/queue"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

const (
	dequeueBackoff = time.Second

	defaultHeartbeatTTL = 30 * time.Second
	defaultRetryBackoff = 5 * time.Second
)

// Queue is the consumer side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Requeue(ctx context.Context, d *queue.Delivery) error
	Recover(ctx context.Context) (int, error)
	Reclaim(ctx context.Context) (int, error)
	Heartbeat(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Processor handles one work item.
type Processor interface {
	Process(ctx context.Context, item models.WorkItem) error
}

// Runner pulls work items from the queue and hands them to a Processor.
type Runner struct {
	queue        Queue
	processor    Processor
	concurrency  int
	pollTimeout  time.Duration
	heartbeatTTL time.Duration
	retryBackoff time.Duration
}

type RunnerOption func(*Runner)

// WithHeartbeatTTL sets how long the consumer stays alive without a refresh.
// Heartbeats are sent every third of it.
func WithHeartbeatTTL(ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		if ttl > 0 {
			r.heartbeatTTL = ttl
		}
	}
}

// WithRetryBackoff sets the wait before a failed item is put back on the queue.
func WithRetryBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d >= 0 {
			r.retryBackoff = d
		}
	}
}

func NewRunner(q Queue, p Processor, concurrency int, pollTimeout time.Duration, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:        q,
		processor:    p,
		concurrency:  max(concurrency, 1),
		pollTimeout:  pollTimeout,
		heartbeatTTL: defaultHeartbeatTTL,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run claims the consumer name, recovers items left over from a previous run
// of this consumer and from consumers that died, then consumes until ctx is
// cancelled. Items already taken when ctx is cancelled are processed to
// completion before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.claim(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := r.queue.Release(context.WithoutCancel(ctx)); err != nil {
			zap.S().Warnw("failed to release consumer name", "error", err)
		}
	}()

	moved, err := r.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover unacknowledged work: %w", err)
	}
	if moved > 0 {
		metrics.AddRedeliveries(moved)
		zap.S().Warnw("requeued unacknowledged work items", "count", moved)
	}
	r.reclaim(ctx)

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeat(hbCtx)
	}()

	var wg sync.WaitGroup
	for i := range r.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, i)
		}()
	}
	wg.Wait()

	stopHeartbeat()
	<-hbDone
	return nil
}

// claim takes the consumer name, waiting while another process holds it.
func (r *Runner) claim(ctx context.Context) error {
	waiting := false
	for {
		err := r.queue.Heartbeat(ctx, r.heartbeatTTL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, queue.ErrConsumerInUse) {
			return fmt.Errorf("claim consumer name: %w", err)
		}
		if !waiting {
			zap.S().Warnw("consumer name is held by another process, waiting", "error", err)
			waiting = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.heartbeatTTL / 3):
		}
	}
}

// heartbeat keeps the consumer alive and reclaims work of dead consumers
// until ctx is cancelled.
func (r *Runner) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := r.queue.Heartbeat(ctx, r.heartbeatTTL); err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.S().Errorw("heartbeat failed", "error", err)
		}
		r.reclaim(ctx)
	}
}

func (r *Runner) reclaim(ctx context.Context) {
	moved, err := r.queue.Reclaim(ctx)
	if moved > 0 {
		metrics.AddRedeliveries(moved)
		zap.S().Warnw("reclaimed work items from stopped consumers", "count", moved)
	}
	if err != nil && ctx.Err() == nil {
		zap.S().Warnw("reclaim failed", "error", err)
	}
}

func (r *Runner) loop(ctx context.Context, slot int) {
	log := zap.S().With("slot", slot)
	log.Infow("worker slot started")
	defer log.Infow("worker slot stopped")

	for ctx.Err() == nil {
		d, err := r.queue.Dequeue(ctx, r.pollTimeout)
		if errors.Is(err, queue.ErrNoWork) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorw("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		r.handle(ctx, log, d)
	}
}

// handle processes d without cancellation. A failed item goes back on the
// queue after the retry backoff, or at once when ctx is cancelled.
func (r *Runner) handle(ctx context.Context, log *zap.SugaredLogger, d *queue.Delivery) {
	log = log.With("tracking_id", d.Item.TrackingID, "delivery_id", d.Item.ID)
	work := context.WithoutCancel(ctx)

	err := r.processor.Process(work, d.Item)
	if err == nil {
		if err := r.queue.Ack(work, d); err != nil {
			log.Errorw("failed to acknowledge work item", "error", err)
		}
		return
	}

	log.Errorw("work item failed, requeueing", "error", err, "backoff", r.retryBackoff)
	select {
	case <-ctx.Done():
	case <-time.After(r.retryBackoff):
	}
	if err := r.queue.Requeue(work, d); err != nil {
		log.Errorw("failed to requeue work item, left for recovery", "error", err)
		return
	}
	metrics.AddRedeliveries(1)
}
