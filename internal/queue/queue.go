package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull is returned by TryEnqueue when the queue is at capacity.
	ErrFull = errors.New("queue: full")

	// ErrClosed is returned by TryEnqueue after Close.
	ErrClosed = errors.New("queue: closed")
)

// Queue is a bounded FIFO of jobs shared by the router and the workers.
//
// Enqueue never blocks. Dequeue blocks until a job is available, the queue
// is closed and empty, or the context is done. Every dequeued job must be
// acknowledged with Done so that Join can observe the drain.
type Queue struct {
	jobs chan Job

	mu         sync.Mutex
	closed     bool
	unfinished int
	drained    *sync.Cond
}

// New creates a queue holding at most capacity jobs.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{jobs: make(chan Job, capacity)}
	q.drained = sync.NewCond(&q.mu)
	return q
}

// TryEnqueue places job on the queue without waiting.
func (q *Queue) TryEnqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.unfinished++
		return nil
	default:
		return ErrFull
	}
}

// Dequeue waits for the next job. ok is false when the queue has been
// closed and fully consumed, or when ctx is done first.
func (q *Queue) Dequeue(ctx context.Context) (job Job, ok bool) {
	select {
	case job, ok = <-q.jobs:
		return job, ok
	case <-ctx.Done():
		return Job{}, false
	}
}

// Done marks a dequeued job as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		panic("queue: Done called more times than jobs were enqueued")
	}
	q.unfinished--
	if q.unfinished == 0 {
		q.drained.Broadcast()
	}
}

// Close stops the queue from accepting jobs. Jobs already queued remain
// available to Dequeue. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Join blocks until every enqueued job has been marked Done.
func (q *Queue) Join() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.unfinished > 0 {
		q.drained.Wait()
	}
}

// Len returns the number of jobs waiting to be dequeued.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap returns the queue's capacity.
func (q *Queue) Cap() int {
	return cap(q.jobs)
}

// Pending returns the number of jobs queued or in progress.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
