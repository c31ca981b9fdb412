package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow checks if a request can be allowed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// RateLimiter admits connections against a global bucket and one bucket per peer.
type RateLimiter struct {
	mu          sync.Mutex
	global      *TokenBucket
	perPeer     map[string]*TokenBucket
	perPeerRate int
	burstSize   int
}

// NewRateLimiter creates a limiter. A rate of 0 disables that limit.
func NewRateLimiter(globalRate, perPeerRate, burstSize int) *RateLimiter {
	rl := &RateLimiter{
		perPeer:     make(map[string]*TokenBucket),
		perPeerRate: perPeerRate,
		burstSize:   burstSize,
	}
	if globalRate > 0 {
		rl.global = NewTokenBucket(globalRate, burstSize)
	}
	return rl
}

// AllowConnection checks if a connection from peer may be handled
func (rl *RateLimiter) AllowConnection(peer string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}

	if rl.perPeerRate > 0 {
		rl.mu.Lock()
		bucket, exists := rl.perPeer[peer]
		if !exists {
			bucket = NewTokenBucket(rl.perPeerRate, rl.burstSize)
			rl.perPeer[peer] = bucket
		}
		rl.mu.Unlock()

		if !bucket.Allow() {
			return false
		}
	}

	return true
}

// CleanupIdle drops per-peer buckets unused for longer than maxIdle and
// returns how many were removed.
func (rl *RateLimiter) CleanupIdle(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for peer, bucket := range rl.perPeer {
		if bucket.idleSince().Before(cutoff) {
			delete(rl.perPeer, peer)
			removed++
		}
	}
	return removed
}
