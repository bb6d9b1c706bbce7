package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	TypeNone  = ""
	TypeRedis = "redis"

	DefaultTTL = 24 * time.Hour
)

// Entry is a resolved payload ready to be served.
type Entry struct {
	ContentType string
	Data        []byte
}

// Cache stores resolved payloads. Get returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Close() error
}

type Options struct {
	Type     string
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

func NewCache(ctx context.Context, opts Options) (Cache, error) {
	switch opts.Type {
	case TypeNone, "none":
		return NoopCache{}, nil
	case TypeRedis:
		return NewRedisCache(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", opts.Type)
	}
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*Entry, error) { return nil, nil }
func (NoopCache) Set(context.Context, string, *Entry) error   { return nil }
func (NoopCache) Close() error                                { return nil }
