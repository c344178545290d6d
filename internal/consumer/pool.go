// Package consumer implements the bounded event queue and fixed-size
// worker pool of spec.md §4.6, grounded on cli/receivers.go's
// TestReceivers job-channel worker pool: a pre-sized buffered channel
// plus golang.org/x/sync/errgroup for joined shutdown, rather than a
// WaitGroup and manual error plumbing.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/gatekeeper/gatekeeper/internal/metrics"
)

// Processor is the subset of internal/processor.Processor the pool
// needs.
type Processor interface {
	Process(ev *event.Event)
}

// DefaultWorkers is the default worker count (spec.md §4.6).
const DefaultWorkers = 3

// ErrQueueFull is returned by Enqueue when the bounded queue is at
// capacity (spec.md §5 backpressure: HTTP ingress rejects with a
// 503-equivalent).
var ErrQueueFull = fmt.Errorf("consumer: queue is full")

// Pool is a fixed number of workers concurrently dequeuing events from a
// bounded in-process queue and invoking the processor. Ordering is
// per-worker FIFO, not global FIFO (spec.md §5).
type Pool struct {
	queue     chan *event.Event
	workers   int
	processor Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New constructs a Pool with the given worker count and queue capacity.
// workers <= 0 defaults to DefaultWorkers.
func New(processor Processor, m *metrics.Metrics, logger *slog.Logger, workers, queueCapacity int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		queue:     make(chan *event.Event, queueCapacity),
		workers:   workers,
		processor: processor,
		metrics:   m,
		logger:    logger,
	}
}

// ErrClosed is returned by Enqueue once shutdown has begun.
var ErrClosed = fmt.Errorf("consumer: pool is shutting down")

// Enqueue submits ev for processing. It returns ErrQueueFull immediately
// rather than blocking if the queue is at capacity, and ErrClosed once
// shutdown has begun (spec.md §5: "stop accepting new enqueues").
func (p *Pool) Enqueue(ev *event.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- ev:
		p.metrics.QueueSize.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueSize reports the queue's current depth, for the /queue-size
// endpoint (spec.md §6; SUPPLEMENTED FEATURES item 1 of SPEC_FULL.md: a
// direct channel-length read, not an approximation).
func (p *Pool) QueueSize() int {
	return len(p.queue)
}

// Run starts the worker pool. It blocks until ctx is cancelled, at which
// point it stops accepting new enqueues, closes the queue, and waits for
// every worker to drain its remaining in-flight events before returning
// (spec.md §5 shutdown sequence: stop enqueue, drain, then join).
// Workers never observe ctx cancellation directly — only queue closure —
// so an event already in flight is never abandoned mid-drain.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for ev := range p.queue {
				p.processor.Process(ev)
				p.metrics.QueueSize.Set(float64(len(p.queue)))
			}
			return nil
		})
	}

	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	return g.Wait()
}
