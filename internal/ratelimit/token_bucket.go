package ratelimit

import (
	"sync"
	"time"
)

// microTokensPerToken is the fixed-point scale: rates are whole tokens per
// second, so one token per second adds one micro-token per microsecond.
const microTokensPerToken int64 = int64(time.Second / time.Microsecond)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at fillRate tokens/sec up to capacity tokens. Accounting
// is in integer micro-tokens so long-running buckets do not drift.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity  int64 // micro-tokens
	fillRate  int64 // tokens/sec
	available int64 // micro-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses wall time.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if fillRate < 0 {
		fillRate = 0
	}
	capacity := toMicro(capacityTokens)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow takes tokens if they are all available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toMicro(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

// Tokens reports the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.available / microTokensPerToken
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	// A clock stepping backwards only moves the reference point.
	if elapsed <= 0 || b.fillRate == 0 || b.available >= b.capacity {
		return
	}

	micros := elapsed.Microseconds()
	missing := b.capacity - b.available
	if micros >= missing/b.fillRate+1 {
		b.available = b.capacity
		return
	}
	b.available += micros * b.fillRate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func toMicro(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/microTokensPerToken {
		return maxInt64
	}
	return tokens * microTokensPerToken
}
