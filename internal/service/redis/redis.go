package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisService is the small slice of redis the gateway and the key cache use.
	RedisService struct {
		rdb    *redis.Client
		prefix string
	}
)

func NewRedis(rdb *redis.Client, prefix string) *RedisService {
	return &RedisService{
		rdb:    rdb,
		prefix: prefix,
	}
}

func (r *RedisService) key(k string) string {
	return r.prefix + k
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Append pushes values to the list at key, keeps only the newest limit entries and refreshes the
// list's ttl.
func (r *RedisService) Append(ctx context.Context, key string, limit int64, ttl time.Duration, values ...any) error {
	k := r.key(key)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, values...)
		if limit > 0 {
			p.LTrim(ctx, k, -limit, -1)
		}
		if ttl > 0 {
			p.Expire(ctx, k, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisService) Range(ctx context.Context, key string) ([]string, error) {
	return r.rdb.LRange(ctx, r.key(key), 0, -1).Result()
}

func (r *RedisService) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

// Get returns ok=false for a missing key.
func (r *RedisService) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
