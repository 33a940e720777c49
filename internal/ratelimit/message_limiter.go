package ratelimit

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrMessageTooLarge = errors.New("message too large")
)

// MessageLimiter guards one signaling connection: a per-message size cap and a
// messages/sec budget with a one second burst.
type MessageLimiter struct {
	maxBytes int64
	messages *TokenBucket
}

func NewMessageLimiter(clock Clock, maxBytes int64, messagesPerSecond int) *MessageLimiter {
	rate := int64(messagesPerSecond)
	return &MessageLimiter{
		maxBytes: maxBytes,
		messages: NewTokenBucket(clock, rate, rate),
	}
}

// MaxBytes is the largest message Check accepts.
func (l *MessageLimiter) MaxBytes() int64 { return l.maxBytes }

// Check charges one message of size bytes. Oversized messages are rejected
// without consuming budget.
func (l *MessageLimiter) Check(size int64) error {
	if l.maxBytes > 0 && size > l.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, size, l.maxBytes)
	}
	if !l.messages.Allow(1) {
		return ErrRateLimited
	}
	return nil
}
