package db

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of record store operations in flight. Sessions run
// their store calls through it so a burst of slow queries queues here instead
// of exhausting database connections.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool returns a Pool admitting at most size concurrent operations.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if ctx ends first.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Query runs fn inside p and returns its result.
func Query[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
