package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore is the shared cache tier backing TieredStore.Remote.
// redis.Nil is a plain miss; transient errors are logged at debug level
// and reported as misses rather than propagated.
type RedisStore struct {
	client redis.UniversalClient
}

// RedisConfig configures the shared Redis tier.
type RedisConfig struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// NewRedisStore connects to Redis and pings it once to fail fast on
// misconfiguration. Returns nil, nil when Addr is empty (no shared tier
// configured).
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	if r == nil || r.client == nil {
		return Entry{}, false
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", key).Msg("cache_redis_get_error")
		}
		return Entry{}, false
	}
	entry, ok := decodeEntry(raw)
	if !ok {
		return Entry{}, false
	}
	if entry.expired(time.Now()) {
		return Entry{}, false
	}
	return entry, true
}

func (r *RedisStore) Set(ctx context.Context, key string, entry Entry) error {
	if r == nil || r.client == nil {
		return nil
	}
	raw := encodeEntry(entry)
	ttl := entry.TTL
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache_redis_set_error")
		return err
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache_redis_delete_error")
		return err
	}
	return nil
}

func (r *RedisStore) Flush(ctx context.Context, ns Namespace) error {
	if r == nil || r.client == nil {
		return nil
	}
	pattern := string(ns) + ":*"
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Debug().Err(err).Str("key", iter.Val()).Msg("cache_redis_flush_error")
		}
	}
	return iter.Err()
}

func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
