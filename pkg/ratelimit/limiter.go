// Package ratelimit throttles session endpoints to slow down token guessing.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket for a single key
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter tracks one token bucket per key (client IP or user id).
// Buckets refill continuously at refillRate tokens per second up to capacity.
type Limiter struct {
	capacity   int
	refillRate float64
	ttl        time.Duration
	buckets    map[string]*bucket
	mu         sync.Mutex
	now        func() time.Time
}

// NewLimiter creates a limiter allowing a burst of capacity requests per key,
// refilling at refillRate requests per second. Buckets idle for longer than
// ttl are swept from memory; ttl of zero keeps them forever.
func NewLimiter(capacity int, refillRate float64, ttl time.Duration) *Limiter {
	l := &Limiter{
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
	if ttl > 0 {
		go l.sweep()
	}
	return l
}

// Allow reports whether a request for key may proceed, consuming one token
// when it does.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.capacity), lastRefill: now}
		l.buckets[key] = b
	}

	refill := now.Sub(b.lastRefill).Seconds() * l.refillRate
	b.tokens += refill
	if b.tokens > float64(l.capacity) {
		b.tokens = float64(l.capacity)
	}
	b.lastRefill = now

	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// Reset restores the bucket for key to full capacity
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		b.tokens = float64(l.capacity)
		b.lastRefill = l.now()
	}
}

// ActiveBuckets returns the number of keys currently tracked
func (l *Limiter) ActiveBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		cutoff := l.now().Add(-l.ttl)
		for key, b := range l.buckets {
			if b.lastRefill.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}
