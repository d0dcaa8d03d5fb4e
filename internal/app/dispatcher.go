package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull        = errors.New("background queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Dispatcher runs fire-and-forget work (mail delivery) on a fixed pool of
// workers fed by a bounded queue.
type Dispatcher struct {
	jobs    chan job
	workers int
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	group  errgroup.Group
}

func NewDispatcher(workers, queueSize int, log *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Dispatcher{
		jobs:    make(chan job, queueSize),
		workers: workers,
		log:     log,
	}
}

// Start launches the workers. Jobs run with ctx, so it should outlive the
// HTTP server for in-flight mail to be delivered during shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			for j := range d.jobs {
				d.execute(ctx, j)
			}
			return nil
		})
	}
}

func (d *Dispatcher) execute(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "background job panicked", "job", j.name, "panic", r)
		}
	}()

	if err := j.run(ctx); err != nil {
		d.log.ErrorContext(ctx, "background job failed", "job", j.name, "err", err)
		return
	}
	d.log.DebugContext(ctx, "background job done", "job", j.name)
}

// Submit queues fn without blocking.
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- job{name: name, run: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for the queue to drain.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	return d.group.Wait()
}
