package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_New(t *testing.T) {
	limiter := New(4, 0)

	assert.NotNil(t, limiter)
	assert.Equal(t, 250*time.Millisecond, limiter.Interval())
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter := New(5, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("conn1"), "message %d should be allowed", i+1)
	}

	assert.False(t, limiter.Allow("conn1"), "message 6 should be blocked")
	assert.True(t, limiter.Allow("conn2"), "buckets are per connection")
}

func TestRateLimiter_WaitPaces(t *testing.T) {
	limiter := New(20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		err := limiter.Wait(context.Background(), "conn1")
		assert.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	m := limiter.Metrics()
	assert.Equal(t, int64(3), m.TotalMessages)
	assert.Equal(t, int64(2), m.DelayedMessages)
}

func TestRateLimiter_Wait_ContextCancellation(t *testing.T) {
	limiter := New(1, 1)

	err := limiter.Wait(context.Background(), "conn1")
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "conn1")
	assert.Error(t, err)
	assert.Equal(t, int64(1), limiter.Metrics().DeniedMessages)
}

func TestRateLimiter_Forget(t *testing.T) {
	limiter := New(1, 1)

	assert.True(t, limiter.Allow("conn1"))
	assert.False(t, limiter.Allow("conn1"))
	assert.Equal(t, int32(1), limiter.Metrics().BucketCount)

	limiter.Forget("conn1")
	limiter.Forget("conn1")
	assert.Equal(t, int32(0), limiter.Metrics().BucketCount)
	assert.True(t, limiter.Allow("conn1"), "a forgotten connection starts with a full bucket")
}

func TestRateLimiter_Concurrent(t *testing.T) {
	limiter := New(100, 100)

	var wg sync.WaitGroup
	successCount := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successCount <- limiter.Allow("shared")
		}()
	}

	wg.Wait()
	close(successCount)

	allowed := 0
	for success := range successCount {
		if success {
			allowed++
		}
	}

	assert.LessOrEqual(t, allowed, 100, "should not allow more than the burst")
}

func TestRateLimiter_SetLimit(t *testing.T) {
	limiter := New(1, 1)

	assert.True(t, limiter.Allow("conn1"))
	assert.False(t, limiter.Allow("conn1"))

	limiter.SetLimit(1000)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, limiter.Allow("conn1"), "should allow after limit increase and time passage")
	assert.Equal(t, time.Millisecond, limiter.Interval())
}
