package ssevents

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures RedisStore and RedisStreamSink.
type RedisConfig struct {
	// Addr like "localhost:6379". ENV: SSEVENTS_REDIS_ADDR
	Addr string `toml:"addr,omitempty" env:"SSEVENTS_REDIS_ADDR"`
	// KeyPrefix for all keys. ENV: SSEVENTS_REDIS_PREFIX
	KeyPrefix string `toml:"key_prefix,omitempty" env:"SSEVENTS_REDIS_PREFIX"`
	Password  string `toml:"password,omitempty" env:"SSEVENTS_REDIS_PASSWORD"`
	DB        int    `toml:"db,omitempty" env:"SSEVENTS_REDIS_DB"`
}

func (c *RedisConfig) defaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "ssevents:"
	}
}

func (c RedisConfig) client() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// RedisStore keeps values as plain redis strings under a key prefix.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	cfg.defaults()
	cl := cfg.client()
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: cl, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *RedisStore) key(k string) string { return s.keyPrefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get key %s: %w", s.key(key), err)
	}
	return v, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", s.key(key), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", s.key(key), err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error { return s.client.Close() }
