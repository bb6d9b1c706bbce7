package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "images:variant:"
	fieldContentType = "contentType"
	fieldData        = "data"
)

// RedisCache keeps each entry in a hash so content type and payload expire together.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	if opts.Address == "" {
		return nil, errors.New("redis address is empty")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Address, err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	fields, err := c.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return nil, err
	}
	data, ok := fields[fieldData]
	if !ok {
		return nil, nil
	}
	return &Entry{ContentType: fields[fieldContentType], Data: []byte(data)}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyPrefix+key, fieldContentType, entry.ContentType, fieldData, entry.Data)
		pipe.Expire(ctx, keyPrefix+key, c.ttl)
		return nil
	})
	return err
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
