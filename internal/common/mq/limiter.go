package mq

import "context"

// TokenLimiter bounds the number of handlers in flight.
type TokenLimiter struct {
	tokens chan struct{}
}

// NewTokenLimiter creates a limiter with a fixed capacity.
func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		size = 1
	}
	return &TokenLimiter{tokens: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is canceled.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.tokens <- struct{}{}:
		return nil
	}
}

// Release frees a slot taken by Acquire.
func (l *TokenLimiter) Release() {
	select {
	case <-l.tokens:
	default:
	}
}
