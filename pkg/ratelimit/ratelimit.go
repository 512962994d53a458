// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit limits how often a client address may open sessions.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens and
// refilling refillRate tokens per second.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.allowAt(time.Now())
}

func (tb *TokenBucket) allowAt(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// full reports whether the bucket refilled completely, i.e. its client
// has been idle long enough that forgetting it changes nothing.
func (tb *TokenBucket) full(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	return tb.tokens >= tb.capacity
}

// Config holds limiter configuration.
type Config struct {
	// Capacity is the burst of sessions one address may open.
	Capacity float64
	// RefillRate is the sustained number of sessions per second.
	RefillRate float64
	// MaxClients caps tracked addresses. New addresses beyond it are refused.
	MaxClients int
	// CleanupInterval is how often idle addresses are forgotten.
	CleanupInterval time.Duration
}

// Limiter keeps a token bucket per client address.
type Limiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*TokenBucket
	stop     chan struct{}
	once     sync.Once
	now      func() time.Time
}

// NewLimiter creates a limiter and starts its cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = 1
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	l := &Limiter{
		config:   cfg,
		limiters: make(map[string]*TokenBucket),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether the client at addr may open another session.
func (l *Limiter) Allow(addr string) bool {
	now := l.now()

	l.mu.Lock()
	tb, ok := l.limiters[addr]
	if !ok {
		if len(l.limiters) >= l.config.MaxClients {
			l.mu.Unlock()
			return false
		}
		tb = NewTokenBucket(l.config.Capacity, l.config.RefillRate)
		tb.lastRefill = now
		l.limiters[addr] = tb
	}
	l.mu.Unlock()

	return tb.allowAt(now)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup forgets addresses whose buckets refilled completely.
func (l *Limiter) cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, tb := range l.limiters {
		if tb.full(now) {
			delete(l.limiters, addr)
		}
	}
}

// Clients returns the number of tracked addresses.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() {
	l.once.Do(func() {
		close(l.stop)
	})
}
