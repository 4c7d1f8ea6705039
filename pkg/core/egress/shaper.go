// Package egress shapes outbound connection traffic.
package egress

import (
	"context"
	"sync"
	"time"
)

// TokenBucket limits throughput to rate bytes per second with bursts up to capacity.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket returns a full bucket. It returns nil for a non-positive
// rate; a nil bucket never limits.
func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
	if ratePerSec <= 0 {
		return nil
	}
	if capacity <= 0 {
		capacity = ratePerSec
	}
	b := &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, now: time.Now}
	b.last = b.now()
	return b
}

// Allow tries to take n tokens. Otherwise it reports how long to wait until
// enough tokens accumulate. Requests larger than the capacity are admitted
// once the bucket is full, leaving it in debt.
func (b *TokenBucket) Allow(n int64) (bool, time.Duration) {
	if b == nil {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	need := min(n, b.capacity)
	if b.tokens >= need {
		b.tokens -= n
		return true, 0
	}
	return false, time.Duration((need - b.tokens) * int64(time.Second) / b.rate)
}

// refill credits the time since the last refill. Whole seconds past the
// point where the bucket would be full are never multiplied out.
func (b *TokenBucket) refill(now time.Time) {
	dt := now.Sub(b.last)
	if dt <= 0 {
		return
	}
	deficit := b.capacity - b.tokens
	secs, frac := int64(dt/time.Second), dt%time.Second
	if deficit <= 0 || secs > deficit/b.rate {
		b.tokens = b.capacity
		b.last = now
		return
	}
	add := b.rate*secs + int64(float64(b.rate)*float64(frac)/float64(time.Second))
	if add > 0 {
		b.tokens = min(b.tokens+add, b.capacity)
		b.last = now
	}
}

// Wait blocks until n tokens are taken or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, n int64) error {
	for {
		ok, wait := b.Allow(n)
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
