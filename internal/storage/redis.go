package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisBackend struct {
	rdb *redis.Client
	log *logrus.Entry
}

// NewRedisBackend parses a redis:// URL (credentials included) and pings the
// server. An unreachable server is logged, not fatal: every later operation
// fails and the render cache degrades to misses.
func NewRedisBackend(logger *logrus.Logger, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	b := &RedisBackend{
		rdb: redis.NewClient(opts),
		log: logger.WithFields(logrus.Fields{"component": "redis_backend", "addr": opts.Addr}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		b.log.WithError(err).Warn("Redis not reachable, render cache will miss until it is")
	} else {
		b.log.Info("Redis connection established")
	}
	return b, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, content, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
