// Package ratelimit throttles transfers with a token bucket shared by every
// stream it wraps.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// minBucketSize keeps small limits from stalling on single chunks
const minBucketSize = 64 * 1024

// Limiter controls the rate of data transfer across multiple streams
type Limiter struct {
	bytesPerSecond int64
	mu             sync.Mutex
	tokens         int64     // Available tokens (bytes)
	lastUpdate     time.Time // Last time tokens were updated
	bucketSize     int64     // Maximum tokens (burst size)
}

// NewLimiter creates a limiter allowing bytesPerSecond with a burst of one
// second (at least 64KB). A non-positive rate means no limit and returns nil.
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	bucketSize := max(bytesPerSecond, minBucketSize)
	return &Limiter{
		bytesPerSecond: bytesPerSecond,
		tokens:         bucketSize,
		lastUpdate:     time.Now(),
		bucketSize:     bucketSize,
	}
}

// Rate returns the configured bytes per second
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return l.bytesPerSecond
}

// Wait blocks until n bytes may pass and takes them from the bucket. Sizes
// above the burst are admitted one bucket at a time. A nil limiter never
// blocks.
func (l *Limiter) Wait(ctx context.Context, n int64) error {
	if err := ctx.Err(); err != nil || l == nil {
		return err
	}
	for n > 0 {
		step := min(n, l.bucketSize)
		if err := l.take(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

func (l *Limiter) take(ctx context.Context, needed int64) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= needed {
			l.tokens -= needed
			l.mu.Unlock()
			return nil
		}
		deficit := needed - l.tokens
		wait := max(time.Duration(float64(deficit)/float64(l.bytesPerSecond)*float64(time.Second)), time.Millisecond)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill adds tokens for the elapsed time; the lock must be held
func (l *Limiter) refill() {
	now := time.Now()
	add := int64(now.Sub(l.lastUpdate).Seconds() * float64(l.bytesPerSecond))
	if add > 0 {
		l.tokens = min(l.tokens+add, l.bucketSize)
		l.lastUpdate = now
	}
}
