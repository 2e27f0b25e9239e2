package cron

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FireGuard elects a single winner for a named tick. With several
// instances of the service running against one database, only the
// guard winner runs the tick's work.
type FireGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

type redisFireGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (g *redisFireGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+":"+key, "1", g.ttl).Result()
}

type memoryFireGuard struct {
	mu     sync.Mutex
	held   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryFireGuard(ttl time.Duration) *memoryFireGuard {
	now := time.Now()
	return &memoryFireGuard{
		held:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (g *memoryFireGuard) Acquire(_ context.Context, key string) (bool, error) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if exp, ok := g.held[key]; ok && exp.After(now) {
		return false, nil
	}

	g.held[key] = now.Add(g.ttl)
	if now.After(g.nextGC) {
		for k, exp := range g.held {
			if exp.Before(now) {
				delete(g.held, k)
			}
		}
		g.nextGC = now.Add(g.ttl)
	}

	return true, nil
}

// NewFireGuard builds a Redis guard and falls back to in-memory on
// failure. The in-memory guard is only safe for single-instance
// deployments.
func NewFireGuard(addr, pass string, db int, ttl time.Duration) (FireGuard, error) {
	if ttl <= 0 {
		ttl = 50 * time.Second
	}
	if addr == "" {
		return newMemoryFireGuard(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryFireGuard(ttl), err
	}

	return &redisFireGuard{client: client, prefix: "thrivesend:tick", ttl: ttl}, nil
}
