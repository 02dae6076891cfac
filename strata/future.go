package strata

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous operation. It settles exactly
// once; every waiter observes the same outcome.
type Future[T any] struct {
	done     chan struct{}
	once     sync.Once
	val      T
	err      error
	onSettle func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func completedFuture[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(val, err)
	return f
}

// complete settles the future. Later calls are no-ops, so concurrent
// completion attempts all observe the first outcome.
func (f *Future[T]) complete(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		if f.onSettle != nil {
			f.onSettle()
		}
		close(f.done)
	})
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is canceled. Cancellation
// abandons the wait only; the underlying operation runs to completion.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
