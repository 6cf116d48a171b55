package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the response cache with a shared Redis instance so several
// gateway replicas warm the same entries.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedis connects to Redis and verifies connectivity before returning.
func NewRedis(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return &Redis{client: client, ttl: ttl, log: logger}, nil
}

// Get fetches a cached value; any Redis failure is treated as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Debug("cache get failed", slog.String("key", key), slog.Any("err", err))
		}
		return nil, false
	}
	return data, true
}

// Set stores a value best-effort with the configured ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte) {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.log.Debug("cache set failed", slog.String("key", key), slog.Any("err", err))
	}
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
