package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect Redis: %w", err)
	}

	log.Printf("Redis connected: addr=%s", addr)
	return rdb, nil
}

// ReplayGuard remembers processed webhook deliveries for a bounded time.
type ReplayGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReplayGuard(rdb *redis.Client, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{rdb: rdb, ttl: ttl}
}

func replayKey(key string) string {
	return "webhook:" + key
}

func (g *ReplayGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.rdb.Exists(ctx, replayKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return n > 0, nil
}

func (g *ReplayGuard) Remember(ctx context.Context, key string) error {
	if err := g.rdb.Set(ctx, replayKey(key), time.Now().UTC().Format(time.RFC3339), g.ttl).Err(); err != nil {
		return fmt.Errorf("failed to remember delivery: %w", err)
	}
	return nil
}
