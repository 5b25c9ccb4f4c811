package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "qiwigo:delivery:"

// RedisStore shares delivery keys between several webhook listeners.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, addr, password string, db int, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("delivery: redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, retention), nil
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

// Claim uses SET NX so concurrent listeners agree on a single winner.
func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	set, err := s.client.SetNX(ctx, redisKeyPrefix+key, StatusInProgress, InProgressExpiry).Result()
	if err != nil {
		return false, fmt.Errorf("delivery: redis SETNX %q: %w", key, err)
	}
	return set, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, StatusCompleted, s.retention).Err(); err != nil {
		return fmt.Errorf("delivery: redis SET %q: %w", key, err)
	}
	return nil
}

// Status returns the stored status of key, or "" when unknown.
func (s *RedisStore) Status(ctx context.Context, key string) (string, error) {
	status, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("delivery: redis GET %q: %w", key, err)
	}
	return status, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
