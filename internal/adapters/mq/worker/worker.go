// Package worker delivers queued match notifications.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/kicker/internal/domain/notice"
	"github.com/okian/kicker/pkg/logger"
	"github.com/okian/kicker/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount     = 2
	defaultDeliveryTimeout = 5 * time.Second
	poolShutdownTimeout    = 30 * time.Second
)

// Item is what workers read off the queue.
type Item = notice.Notification

// Notifier delivers one notification to an outside channel.
type Notifier interface {
	// Name labels metrics and logs, e.g. "discord".
	Name() string
	Notify(ctx context.Context, n notice.Notification) error
}

// Queue defines how workers receive items.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Item
}

// Worker delivers notifications until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after the delivery in progress.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker on a Queue.
type InMemoryWorker struct {
	queue    Queue
	notifier Notifier
	name     string
	timeout  time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, notifier Notifier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		notifier: notifier,
		name:     "worker",
		timeout:  defaultDeliveryTimeout,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case n, ok := <-items:
			if !ok {
				return
			}
			if err := w.deliver(ctx, n); err != nil {
				w.logger.Warn(ctx, "notification not delivered",
					logger.Int64("match_id", n.MatchID),
					logger.String("notifier", w.notifier.Name()),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker after the delivery in progress.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// deliver sends one notification under the per-delivery timeout.
func (w *InMemoryWorker) deliver(ctx context.Context, n Item) error {
	start := time.Now()
	metrics.UpdateWorkerActiveCount(1)
	defer func() {
		metrics.UpdateWorkerActiveCount(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	name := w.notifier.Name()
	if err := w.notifier.Notify(dctx, n); err != nil {
		metrics.RecordNotificationFailed(name)
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "delivery_error")
		return fmt.Errorf("notify match %d: %w", n.MatchID, err)
	}
	metrics.RecordNotificationSent(name)
	return nil
}

// Pool manages multiple workers on one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing notifier.
func NewPool(workerCount int, queue Queue, notifier Notifier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, notifier, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain it, up to the
// pool timeout or ctx, whichever ends first.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			w.shutdownOnce.Do(func() { close(w.shutdown) })
		}
	}
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not drain: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
