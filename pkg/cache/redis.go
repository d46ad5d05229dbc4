package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Connect builds a client from REDIS_URL and checks it answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	logger.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// IdempotencyStore keeps replayable responses in Redis. A missing key reads as "".
type IdempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *IdempotencyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

// RateCounter implements fixed-window counting with INCR and a TTL set on the
// first hit of each window.
type RateCounter struct {
	client *redis.Client
}

func NewRateCounter(client *redis.Client) *RateCounter {
	return &RateCounter{client: client}
}

func (c *RateCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
