// Package ratelimit implements fixed-window submission throttling, in
// process or shared through Redis.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"custodia/internal/domain"

	"github.com/jonboulle/clockwork"
)

const DefaultMaxKeys = 10000

var ErrCapacity = errors.New("rate limiter capacity exceeded")

type Memory struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	buckets map[string]*bucket
	maxKeys int
}

type bucket struct {
	count     int
	windowEnd time.Time
}

func NewMemory(clock clockwork.Clock, maxKeys int) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Memory{
		clock:   clock,
		buckets: make(map[string]*bucket),
		maxKeys: maxKeys,
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		if !ok && len(m.buckets) >= m.maxKeys {
			m.gc(now)
			if len(m.buckets) >= m.maxKeys {
				return domain.RateLimitDecision{}, ErrCapacity
			}
		}
		b = &bucket{windowEnd: now.Add(window)}
		m.buckets[key] = b
	}

	if b.count >= limit {
		return domain.RateLimitDecision{Allowed: false, Limit: limit, ResetAt: b.windowEnd}, nil
	}
	b.count++
	return domain.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - b.count,
		ResetAt:   b.windowEnd,
	}, nil
}

func (m *Memory) gc(now time.Time) {
	for key, b := range m.buckets {
		if !now.Before(b.windowEnd) {
			delete(m.buckets, key)
		}
	}
}
