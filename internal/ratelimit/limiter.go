// Package ratelimit counts requests per client in fixed windows held in a
// store shared by every service replica.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CounterStore atomically increments the counter for key in the window
// starting at windowStart and returns the new count.
type CounterStore interface {
	Increment(ctx context.Context, key string, windowStart time.Time, ttl time.Duration) (int64, error)
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewLimiter(store CounterStore, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	windowStart := l.now().UTC().Truncate(l.window)

	count, err := l.store.Increment(ctx, key, windowStart, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("increment %s: %w", key, err)
	}

	remaining := l.limit - int(count)
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(remaining, 0),
		ResetAt:   windowStart.Add(l.window),
	}, nil
}
