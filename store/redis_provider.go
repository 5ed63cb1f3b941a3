package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisProvider implements StorageProvider over go-redis, grounded on
// core.redisRegistry and orchestration's Redis-backed StorageProvider
// implementation: strings for records, sorted sets (ZADD/ZREVRANGE/ZREM)
// for the creation-time index, INCR for id allocation.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider dials redisURL (e.g. "redis://localhost:6379/0").
func NewRedisProvider(redisURL string) (*RedisProvider, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisProvider{client: redis.NewClient(opts)}, nil
}

// NewRedisProviderFromClient wraps an already-configured client, useful for
// tests against a miniredis instance.
func NewRedisProviderFromClient(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

func (r *RedisProvider) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisProvider) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisProvider) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisProvider) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisProvider) AddToIndex(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisProvider) ListByScoreDesc(ctx context.Context, key string, offset, count int64) ([]string, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Offset: offset, Count: count}
	return r.client.ZRevRangeByScore(ctx, key, opt).Result()
}

func (r *RedisProvider) RemoveFromIndex(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.ZRem(ctx, key, args...).Err()
}

func (r *RedisProvider) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

var _ StorageProvider = (*RedisProvider)(nil)
