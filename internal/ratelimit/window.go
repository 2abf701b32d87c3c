package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// MemoryWindow is a per-process token bucket that refills
// RequestsPerWindow tokens every Window.
type MemoryWindow struct {
	limiter *rate.Limiter
}

func NewMemoryWindow(limits Limits) *MemoryWindow {
	every := rate.Every(limits.Window / time.Duration(limits.RequestsPerWindow))
	return &MemoryWindow{limiter: rate.NewLimiter(every, limits.RequestsPerWindow)}
}

// MemoryWindows is a WindowFactory for in-process windows.
func MemoryWindows(_ string, limits Limits) Window {
	return NewMemoryWindow(limits)
}

func (w *MemoryWindow) Allow(_ context.Context) (bool, time.Duration, error) {
	if w.limiter.Allow() {
		return true, 0, nil
	}
	r := w.limiter.Reserve()
	delay := r.Delay()
	r.Cancel()
	return false, delay, nil
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisWindow is a fixed-window counter shared by every replica that
// points at the same Redis.
type RedisWindow struct {
	client   redis.UniversalClient
	key      string
	limit    int64
	interval time.Duration
	now      func() time.Time
}

const redisKeyPrefix = "eyeris:ratelimit:"

func NewRedisWindow(client redis.UniversalClient, provider string, limits Limits) *RedisWindow {
	interval := max(limits.Window, time.Millisecond)
	return &RedisWindow{
		client:   client,
		key:      redisKeyPrefix + provider,
		limit:    int64(limits.RequestsPerWindow),
		interval: interval,
		now:      time.Now,
	}
}

// RedisWindows returns a WindowFactory bound to client.
func RedisWindows(client redis.UniversalClient) WindowFactory {
	return func(provider string, limits Limits) Window {
		return NewRedisWindow(client, provider, limits)
	}
}

func (w *RedisWindow) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := w.now()
	slot := now.UnixMilli() / w.interval.Milliseconds()
	key := fmt.Sprintf("%s:%d", w.key, slot)

	pipe := w.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, w.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis window %s: %w", key, err)
	}

	if incr.Val() <= w.limit {
		return true, 0, nil
	}
	windowEnd := time.UnixMilli((slot + 1) * w.interval.Milliseconds())
	return false, windowEnd.Sub(now), nil
}
