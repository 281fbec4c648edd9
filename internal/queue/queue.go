// Package queue provides a sequential, order-preserving task processor.
// One Processor runs at most one task at a time; callers get a Future for
// each submission.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrCleared resolves tasks that were pending when Clear or Destroy ran.
	ErrCleared = errors.New("queue: task cleared before execution")
	// ErrDestroyed resolves tasks enqueued after Destroy.
	ErrDestroyed = errors.New("queue: processor destroyed")
	// ErrFull resolves tasks rejected because the pending depth limit was hit.
	ErrFull = errors.New("queue: pending limit reached")
)

// Task is a unit of work. The context is the one passed to Enqueue.
type Task[T any] func(ctx context.Context) (T, error)

type options struct {
	maxDepth int
	name     string
}

// Option configures a Processor.
type Option func(*options)

// WithMaxDepth bounds the number of pending (not yet started) tasks.
// Zero or negative means unbounded.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithName labels the processor in log output.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

type item[T any] struct {
	ctx    context.Context
	task   Task[T]
	future *Future[T]
}

// Processor executes submitted tasks one after another in submission order.
type Processor[T any] struct {
	opts options

	mu         sync.Mutex
	pending    []*item[T]
	processing bool
	destroyed  bool
}

// New creates an idle processor.
func New[T any](opts ...Option) *Processor[T] {
	p := &Processor[T]{}
	for _, o := range opts {
		o(&p.opts)
	}
	return p
}

// Enqueue appends a task and returns its future. When the processor is
// destroyed or full the returned future is already resolved.
func (p *Processor[T]) Enqueue(ctx context.Context, id string, task Task[T]) *Future[T] {
	f := newFuture[T](id)

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		f.resolve(*new(T), ErrDestroyed)
		return f
	}
	if p.opts.maxDepth > 0 && len(p.pending) >= p.opts.maxDepth {
		p.mu.Unlock()
		f.resolve(*new(T), ErrFull)
		return f
	}
	p.pending = append(p.pending, &item[T]{ctx: ctx, task: task, future: f})
	start := !p.processing
	if start {
		p.processing = true
	}
	p.mu.Unlock()

	if start {
		go p.drain()
	}
	return f
}

// drain runs pending tasks until none remain. Only one drain goroutine is
// alive per processor.
func (p *Processor[T]) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.processing = false
			p.mu.Unlock()
			return
		}
		next := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		p.mu.Unlock()

		val, err := p.run(next)
		next.future.resolve(val, err)
	}
}

func (p *Processor[T]) run(it *item[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queue task panicked", "queue", p.opts.name, "task_id", it.future.id, "panic", r)
			err = fmt.Errorf("queue: task %s panicked: %v", it.future.id, r)
		}
	}()
	ctx := it.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return val, err
	}
	return it.task(ctx)
}

// Clear rejects every task that has not started yet. The running task, if
// any, completes normally.
func (p *Processor[T]) Clear() int {
	p.mu.Lock()
	dropped := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, it := range dropped {
		it.future.resolve(*new(T), ErrCleared)
	}
	return len(dropped)
}

// Destroy clears pending tasks and rejects all future submissions.
// Calling it more than once is harmless.
func (p *Processor[T]) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
	p.Clear()
}

// Len returns the number of pending tasks, excluding the running one.
func (p *Processor[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// IsProcessing reports whether a task is currently executing or queued for
// the active worker.
func (p *Processor[T]) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// Destroyed reports whether Destroy has been called.
func (p *Processor[T]) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}
