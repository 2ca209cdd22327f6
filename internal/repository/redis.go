package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/config"

	"github.com/redis/go-redis/v9"
)

type RedisKeyStore struct {
	client *redis.Client
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

func (r *RedisKeyStore) GetRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record from redis: %w", err)
	}

	var rec IdempotencyRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *RedisKeyStore) SaveRecord(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, idempotencyKey(key), data, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to set idempotency record in redis: %w", err)
	}
	if ok {
		return rec, nil
	}

	existing, err := r.GetRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Expired between SETNX and GET.
		return rec, nil
	}
	return existing, nil
}

func (r *RedisKeyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	rk := "rate_limit:" + key
	count, err := r.client.Incr(ctx, rk).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, rk, window)
	}

	return count <= int64(limit), nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
