// Package ratelimit provides fixed-window request limits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more event under key fits in limit per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// MemoryLimiter is an in-process Limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	count   int
	expires time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts an event and reports whether it is within limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, d time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &window{expires: now.Add(d)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}

// Prune drops expired windows.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

// RedisLimiter is a Limiter shared by every server instance.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter on client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow increments key and starts its window on the first hit.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, d time.Duration) (bool, error) {
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: cannot count %s: %w", key, err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, d).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: cannot expire %s: %w", key, err)
		}
	}
	return n <= int64(limit), nil
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
