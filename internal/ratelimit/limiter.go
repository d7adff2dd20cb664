package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound WebSocket messages. Every connection gets its
// own bucket, created on first use and dropped with Forget.
type RateLimiter struct {
	buckets sync.Map
	mu      sync.RWMutex
	limit   rate.Limit
	burst   int
	metrics *Metrics
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalMessages  atomic.Int64
	delayedMessage atomic.Int64
	deniedMessages atomic.Int64
	bucketCount    atomic.Int32
}

// New creates a RateLimiter allowing messagesPerSecond per connection with
// the given burst. A burst below one is raised to one.
func New(messagesPerSecond int, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(messagesPerSecond),
		burst:   burst,
		metrics: &Metrics{},
	}
}

// Interval returns the minimum spacing between two messages on one connection.
func (r *RateLimiter) Interval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(r.limit))
}

// Wait blocks until the bucket of conn allows one message or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context, conn string) error {
	r.metrics.totalMessages.Add(1)
	limiter := r.bucket(conn)
	res := limiter.Reserve()
	if !res.OK() {
		r.metrics.deniedMessages.Add(1)
		return context.DeadlineExceeded
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	r.metrics.delayedMessage.Add(1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		r.metrics.deniedMessages.Add(1)
		return ctx.Err()
	}
}

// Allow returns true if the bucket of conn permits a message immediately.
func (r *RateLimiter) Allow(conn string) bool {
	r.metrics.totalMessages.Add(1)
	allowed := r.bucket(conn).Allow()
	if !allowed {
		r.metrics.deniedMessages.Add(1)
	}
	return allowed
}

// Forget drops the bucket of conn.
func (r *RateLimiter) Forget(conn string) {
	if _, loaded := r.buckets.LoadAndDelete(conn); loaded {
		r.metrics.bucketCount.Add(-1)
	}
}

func (r *RateLimiter) bucket(conn string) *rate.Limiter {
	if v, ok := r.buckets.Load(conn); ok {
		return v.(*rate.Limiter)
	}

	r.mu.RLock()
	limiter := rate.NewLimiter(r.limit, r.burst)
	r.mu.RUnlock()
	actual, loaded := r.buckets.LoadOrStore(conn, limiter)
	if !loaded {
		r.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// SetLimit updates the per-connection rate for existing and future buckets.
func (r *RateLimiter) SetLimit(messagesPerSecond int) {
	r.mu.Lock()
	r.limit = rate.Limit(messagesPerSecond)
	r.mu.Unlock()

	r.buckets.Range(func(_, v any) bool {
		v.(*rate.Limiter).SetLimit(rate.Limit(messagesPerSecond))
		return true
	})
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalMessages:   r.metrics.totalMessages.Load(),
		DelayedMessages: r.metrics.delayedMessage.Load(),
		DeniedMessages:  r.metrics.deniedMessages.Load(),
		BucketCount:     r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	// TotalMessages is the number of pacing checks performed.
	TotalMessages int64
	// DelayedMessages is the number of messages that had to wait for a token.
	DelayedMessages int64
	// DeniedMessages is the number of messages refused or cancelled while waiting.
	DeniedMessages int64
	// BucketCount is the number of connections with a live bucket.
	BucketCount int32
}
