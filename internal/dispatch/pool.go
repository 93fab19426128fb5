// Package dispatch hands work from a latency-sensitive producer (the serial
// read loop) to a fixed set of workers over a bounded queue. Submit never
// blocks: a full queue rejects the item.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull      = errors.New("dispatch: queue full")
	ErrNotStarted     = errors.New("dispatch: pool not started")
	ErrStopped        = errors.New("dispatch: pool stopped")
	ErrAlreadyStarted = errors.New("dispatch: pool already started")
)

// Observer receives pool events. Metrics implement it; nil is allowed.
type Observer interface {
	Dispatched()
	Dropped()
	Failed()
}

// Pool processes items of type T with a fixed number of workers.
type Pool[T any] struct {
	workers int
	process func(context.Context, T) error
	logger  *slog.Logger
	obs     Observer

	queue chan T
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPool returns an unstarted pool. Non-positive sizes fall back to 1 worker
// and a queue of 64.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, logger *slog.Logger, obs Observer) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool[T]{
		workers: workers,
		process: process,
		logger:  logger,
		obs:     obs,
		queue:   make(chan T, queueSize),
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Submit enqueues item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- item:
		if p.obs != nil {
			p.obs.Dispatched()
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.obs != nil {
			p.obs.Dropped()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued items to drain.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns processed, failed and dropped counts.
func (p *Pool[T]) Stats() (processed, failed, dropped int64) {
	return p.processed.Load(), p.failed.Load(), p.dropped.Load()
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, id, item)
		}
	}
}

// run isolates one item: an error or a panic in process is logged and
// counted, and the worker keeps going.
func (p *Pool[T]) run(ctx context.Context, id int, item T) {
	defer func() {
		if r := recover(); r != nil {
			p.fail()
			p.logger.Error("Worker panic", "worker", id, "panic", r)
		}
	}()
	if err := p.process(ctx, item); err != nil {
		p.fail()
		p.logger.Error("Failed to store record", "worker", id, "error", err)
		return
	}
	p.processed.Add(1)
}

func (p *Pool[T]) fail() {
	p.failed.Add(1)
	if p.obs != nil {
		p.obs.Failed()
	}
}
