// Package cache keeps recent context-provider snapshots in Redis so a turn
// rarely waits on a remote API.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/legitHacker23/SmartMirror/internal/metrics"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-level key/value store with expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisConfig holds configuration for the Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore implements Store on go-redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{rdb: rdb, prefix: cfg.Prefix}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Loader produces a fresh value.
type Loader[T any] func(ctx context.Context) (T, error)

// Cached is a read-through JSON cache in front of a Loader. With a nil store
// every Get calls the loader.
type Cached[T any] struct {
	store  Store
	key    string
	ttl    time.Duration
	load   Loader[T]
	logger zerolog.Logger
}

// NewCached wraps load with a cache entry named key.
func NewCached[T any](store Store, key string, ttl time.Duration, load Loader[T], logger zerolog.Logger) *Cached[T] {
	return &Cached[T]{
		store:  store,
		key:    key,
		ttl:    ttl,
		load:   load,
		logger: logger.With().Str("cache_key", key).Logger(),
	}
}

// Get returns the cached value, loading and storing it on a miss. Cache
// failures fall through to the loader.
func (c *Cached[T]) Get(ctx context.Context) (T, error) {
	if c.store == nil {
		return c.load(ctx)
	}

	b, err := c.store.Get(ctx, c.key)
	switch {
	case err == nil:
		var v T
		uerr := json.Unmarshal(b, &v)
		if uerr == nil {
			metrics.CacheLookups.WithLabelValues(c.key, "hit").Inc()
			return v, nil
		}
		c.logger.Warn().Err(uerr).Msg("Discarding undecodable cache entry")
		metrics.CacheLookups.WithLabelValues(c.key, "error").Inc()
	case errors.Is(err, ErrMiss):
		metrics.CacheLookups.WithLabelValues(c.key, "miss").Inc()
	default:
		c.logger.Warn().Err(err).Msg("Cache read failed")
		metrics.CacheLookups.WithLabelValues(c.key, "error").Inc()
	}

	return c.Refresh(ctx)
}

// Refresh calls the loader and stores its result.
func (c *Cached[T]) Refresh(ctx context.Context) (T, error) {
	v, err := c.load(ctx)
	if err != nil {
		return v, err
	}
	if c.store == nil {
		return v, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Cache encode failed")
		return v, nil
	}
	if err := c.store.Set(ctx, c.key, b, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("Cache write failed")
	}
	return v, nil
}

// Key returns the cache entry name.
func (c *Cached[T]) Key() string {
	return c.key
}
