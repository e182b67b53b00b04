package kv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/devflow-tools/mcp-coordination/internal/config"
	"github.com/devflow-tools/mcp-coordination/internal/log"
)

// RedisStore is the Redis-backed implementation of Store. A single
// instance owns one shared connection pool; it is safe for concurrent
// use.
type RedisStore struct {
	client    *redis.Client
	logger    zerolog.Logger
	opTimeout time.Duration
}

// NewRedisStore connects to Redis using the configured URL and verifies
// connectivity with a ping before returning.
func NewRedisStore(cfg config.Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = cfg.RedisDialTimeout
	opts.ReadTimeout = cfg.RedisReadTimeout
	opts.WriteTimeout = cfg.RedisWriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RedisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("kv")
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to Redis")

	return &RedisStore{
		client:    client,
		logger:    logger,
		opTimeout: cfg.OpTimeout,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, opTimeout time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		logger:    log.WithComponent("kv"),
		opTimeout: opTimeout,
	}
}

func (s *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %q: %w: %v", op, key, ErrUnavailable, err)
}

// Get returns the stored value if present.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", key, err)
	}
	return val, true, nil
}

// Put writes unconditionally; ttl 0 means no expiry.
func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// PutIfAbsent issues a single SET NX EX. It is deliberately not retried:
// an ambiguous failure must surface to the caller as-is.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", key, err)
	}
	return ok, nil
}

// Expire sets or extends the TTL on an existing key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("expire", key, err)
	}
	return nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", key, err)
	}
	return nil
}

// Scan enumerates matching keys with cursor iteration rather than a
// blocking KEYS call.
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", pattern, err)
	}
	return keys, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// ServerInfo parses the server section of INFO. Backends that do not
// implement INFO yield zero values without an error.
func (s *RedisStore) ServerInfo(ctx context.Context) (ServerInfo, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.client.Info(ctx, "server").Result()
	if err != nil {
		s.logger.Debug().Err(err).Msg("INFO not available")
		return ServerInfo{}, nil
	}

	var info ServerInfo
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if v, ok := strings.CutPrefix(line, "redis_version:"); ok {
			info.Version = v
		}
		if v, ok := strings.CutPrefix(line, "uptime_in_seconds:"); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				info.UptimeSeconds = n
			}
		}
	}
	return info, nil
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
