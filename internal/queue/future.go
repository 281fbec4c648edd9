package queue

import (
	"context"
	"sync"
)

// Future is the eventual outcome of an enqueued task.
type Future[T any] struct {
	id   string
	done chan struct{}
	once sync.Once

	val T
	err error
}

func newFuture[T any](id string) *Future[T] {
	return &Future[T]{id: id, done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// ID returns the identifier given at Enqueue.
func (f *Future[T]) ID() string { return f.id }

// Done is closed once the task has a result.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task resolves or ctx is done. A cancelled wait does
// not cancel the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
