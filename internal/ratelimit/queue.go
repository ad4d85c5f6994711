package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Queue runs tasks with at most n in flight. Waiters are admitted in FIFO order.
type Queue struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
	running atomic.Int64
}

func NewQueue(concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Do blocks until a slot is free, then runs task. A panicking task is
// reported as an error to its caller only.
func (q *Queue) Do(ctx context.Context, task func(ctx context.Context) error) (err error) {
	q.waiting.Add(1)
	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.waiting.Add(-1)
		return fmt.Errorf("acquire queue slot: %w", err)
	}
	q.waiting.Add(-1)
	q.running.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued task panic: %v", r)
		}
		q.running.Add(-1)
		q.sem.Release(1)
	}()
	return task(ctx)
}

// Size is the number of tasks waiting for or holding a slot.
func (q *Queue) Size() int {
	return int(q.waiting.Load() + q.running.Load())
}

// Enqueue runs fn on q and hands back its typed result.
func Enqueue[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := q.Do(ctx, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
