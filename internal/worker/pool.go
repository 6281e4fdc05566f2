package worker

import (
	"context"
	"log/slog"
	"sync"

	"messenger/internal/metrics"
)

// Pool runs a fixed number of goroutines draining a job queue.
type Pool[T any] struct {
	name    string
	log     *slog.Logger
	jobs    chan T
	handle  func(context.Context, T) error
	workers int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool[T any](name string, log *slog.Logger, workers, queueSize int, handle func(context.Context, T) error) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	return &Pool[T]{
		name:    name,
		log:     log,
		jobs:    make(chan T, queueSize),
		handle:  handle,
		workers: workers,
	}
}

func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("Starting worker pool", "pool", p.name, "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	metrics.WorkerActive.Inc()
	defer metrics.WorkerActive.Dec()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if err := p.handle(ctx, job); err != nil {
				p.log.Warn("Job failed", "pool", p.name, "error", err)
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full.
func (p *Pool[T]) Submit(ctx context.Context, job T) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the workers and waits for them. Queued jobs are dropped.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.log.Info("Stopped worker pool", "pool", p.name)
}
