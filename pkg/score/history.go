package score

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHistory is an optional HistoryProvider backed by a Redis counter per
// distinct command. A command seen fewer times than the threshold is
// unusual for the environment and scores 1; a frequently seen command
// scores 0. Observations are recorded by the labeling pass itself.
type RedisHistory struct {
	client    *redis.Client
	threshold int64
	ttl       time.Duration
}

// NewRedisHistory connects to Redis and verifies the connection.
func NewRedisHistory(ctx context.Context, addr string, threshold int64) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisHistory{
		client:    client,
		threshold: threshold,
		ttl:       30 * 24 * time.Hour,
	}, nil
}

func historyKey(cmd string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(cmd))))
	return "malguard:cmd:seen:" + hex.EncodeToString(sum[:])
}

// Observe records one sighting of a command.
func (h *RedisHistory) Observe(ctx context.Context, cmd string) error {
	key := historyKey(cmd)
	pipe := h.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// HistoryRisk implements HistoryProvider. Rarely seen commands are risky.
func (h *RedisHistory) HistoryRisk(ctx context.Context, cmd string) (float64, error) {
	count, err := h.client.Get(ctx, historyKey(cmd)).Int64()
	if err == redis.Nil {
		return 1.0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sighting count: %w", err)
	}
	if count < h.threshold {
		return 1.0, nil
	}
	return 0.0, nil
}

// Close releases the Redis connection.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}
