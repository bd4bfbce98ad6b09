package tasks

import (
	"context"
	"log/slog"
	"sync"
)

// Pool executes tasks on a fixed number of goroutines fed by a buffered queue.
type Pool struct {
	registry *Registry
	queue    chan Task
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(registry *Registry, workers, buffer int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		registry: registry,
		queue:    make(chan Task, buffer),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Dispatch enqueues task without blocking. It fails with ErrQueueFull when the
// buffer is exhausted and ErrClosed after Close.
func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	task = task.stamp(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits until queued tasks have run.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.queue {
		ctx := task.withRequestID(context.Background())
		err := p.registry.Handle(ctx, task)
		if err != nil {
			slog.ErrorContext(ctx, "task failed",
				"type", task.Type,
				"error", err,
			)
		}
	}
}
