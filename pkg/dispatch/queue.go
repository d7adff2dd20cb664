package dispatch

import (
	"context"
	"sync"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// PullQueue is the per-stream consumer queue. Put blocks while the queue is
// full, which stalls the producing worker until the consumer catches up.
type PullQueue struct {
	ch chan core.Frame

	mu         sync.Mutex
	unfinished int
	idle       chan struct{}
}

func NewPullQueue(size int) *PullQueue {
	if size < 1 {
		size = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &PullQueue{ch: make(chan core.Frame, size), idle: idle}
}

// Put enqueues f, waiting for room until ctx is done.
func (q *PullQueue) Put(ctx context.Context, f core.Frame) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++
	q.mu.Unlock()

	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		q.TaskDone()
		return ctx.Err()
	}
}

// Get dequeues the oldest frame, waiting until one arrives or ctx is done.
func (q *PullQueue) Get(ctx context.Context) (core.Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return core.Frame{}, ctx.Err()
	}
}

// TryGet dequeues the oldest frame without waiting.
func (q *PullQueue) TryGet() (core.Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return core.Frame{}, false
	}
}

// TaskDone marks one frame taken with Get as processed.
func (q *PullQueue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
}

// Join waits until every enqueued frame has been marked done.
func (q *PullQueue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of frames waiting to be taken.
func (q *PullQueue) Len() int {
	return len(q.ch)
}

// Unfinished returns the number of frames not yet marked done.
func (q *PullQueue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
