// Package redis implements the Redis cache in front of the result store.
// The batch steps invalidate it per test; the standing query reads through it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     int
	Password string

	// DB is the Redis database number (0-15).
	DB int

	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheMiss is returned when the requested key is not found in cache.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization/deserialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty is returned when an empty key is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// PrefixStanding namespaces the per-test standing hashes.
const PrefixStanding = "scores:standing:"

// PrefixStandingGeneration namespaces the per-test invalidation counters.
const PrefixStandingGeneration = "scores:standing-gen:"

// TTLStanding is the default lifetime of a cached standing hash.
const TTLStanding = 10 * time.Minute

// TTLStandingGeneration keeps an invalidation counter well past any hash
// filled under it.
const TTLStandingGeneration = 24 * time.Hour

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache wraps a Redis client with JSON hash helpers.
type Cache struct {
	client *redis.Client
}

// NewCache connects to Redis and pings it.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Version returns the counter stored at key, 0 when it is absent.
func (c *Cache) Version(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrCacheKeyEmpty
	}
	v, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// BumpVersion increments the counter at versionKey and deletes keys in one
// transaction. The counter expires after ttl unless bumped again.
func (c *Cache) BumpVersion(ctx context.Context, versionKey string, ttl time.Duration, keys ...string) error {
	if versionKey == "" {
		return ErrCacheKeyEmpty
	}
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, versionKey)
	if ttl > 0 {
		pipe.Expire(ctx, versionKey, ttl)
	}
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// hsetIfVersion sets a hash field only while the counter in KEYS[2] still
// equals ARGV[1]. Returns 1 when written.
var hsetIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// HSetJSONIfVersion stores value as JSON in a hash field and refreshes the
// TTL of the hash, but only while versionKey still holds version. It
// reports whether the field was written. A zero ttl leaves the hash without
// expiry.
func (c *Cache) HSetJSONIfVersion(ctx context.Context, key, field string, value interface{}, ttl time.Duration, versionKey string, version int64) (bool, error) {
	if key == "" || field == "" || versionKey == "" {
		return false, ErrCacheKeyEmpty
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	written, err := hsetIfVersion.Run(ctx, c.client,
		[]string{key, versionKey},
		strconv.FormatInt(version, 10), field, data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// HGetJSON decodes a hash field into dest.
// Returns ErrCacheMiss if the field doesn't exist.
func (c *Cache) HGetJSON(ctx context.Context, key, field string, dest interface{}) error {
	if key == "" || field == "" {
		return ErrCacheKeyEmpty
	}

	data, err := c.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// StandingKey returns the hash key holding the standings of a test.
func StandingKey(testID string) string {
	return PrefixStanding + testID
}

// StandingGenerationKey returns the key of the invalidation counter of a test.
func StandingGenerationKey(testID string) string {
	return PrefixStandingGeneration + testID
}
