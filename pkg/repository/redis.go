package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/smartcart/pkg/config"
	"github.com/example/smartcart/pkg/models"
	"github.com/go-redis/redis/v8"
)

const (
	productKey      = "product:%d"
	loginAttemptKey = "auth:login:attempts:%s"
)

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// CacheProduct stores a product snapshot for read paths. Stock in the cache
// is informational only; order placement always reads the database row.
func (r *RedisRepository) CacheProduct(ctx context.Context, p *models.Product) error {
	ttl := r.config.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return r.SetJSON(ctx, fmt.Sprintf(productKey, p.ID), p, ttl)
}

// GetProductCache reports found=false on a cache miss.
func (r *RedisRepository) GetProductCache(ctx context.Context, id int64) (*models.Product, bool, error) {
	var p models.Product
	err := r.GetJSON(ctx, fmt.Sprintf(productKey, id), &p)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (r *RedisRepository) InvalidateProducts(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(productKey, id)
	}
	return r.client.Del(ctx, keys...).Err()
}

// LoginAttempts returns the failure count for key and how long until the
// window resets.
func (r *RedisRepository) LoginAttempts(ctx context.Context, key string) (int, time.Duration, error) {
	k := fmt.Sprintf(loginAttemptKey, key)
	n, err := r.client.Get(ctx, k).Int()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	ttl, err := r.client.TTL(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	return n, ttl, nil
}

// RecordLoginFailure increments the failure counter; the window starts at
// the first failure.
func (r *RedisRepository) RecordLoginFailure(ctx context.Context, key string, window time.Duration) error {
	k := fmt.Sprintf(loginAttemptKey, key)
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return r.client.Expire(ctx, k, window).Err()
	}
	return nil
}

func (r *RedisRepository) ResetLoginAttempts(ctx context.Context, key string) error {
	return r.client.Del(ctx, fmt.Sprintf(loginAttemptKey, key)).Err()
}
