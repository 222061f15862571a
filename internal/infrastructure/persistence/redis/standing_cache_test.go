package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiroko250/autograder-system/internal/application/query"
)

// unreachable returns a client for a port nothing listens on.
func unreachable() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestStandingKey(t *testing.T) {
	assert.Equal(t, "scores:standing:t-2026-spring-math", StandingKey("t-2026-spring-math"))
	assert.Equal(t, "scores:standing-gen:t-2026-spring-math", StandingGenerationKey("t-2026-spring-math"))
	assert.False(t, strings.HasPrefix(StandingGenerationKey("t1"), StandingKey("")),
		"counters live outside the standing hash namespace")
}

func TestNewStandingCache_DefaultTTL(t *testing.T) {
	c := NewStandingCache(NewCacheFromClient(unreachable()), 0)
	assert.Equal(t, TTLStanding, c.ttl)

	c = NewStandingCache(NewCacheFromClient(unreachable()), time.Minute)
	assert.Equal(t, time.Minute, c.ttl)
}

func TestNewCache_ConnectionFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 1
	cfg.DialTimeout = 50 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestStandingCache_ErrorsAreNotMisses(t *testing.T) {
	cache := NewCacheFromClient(unreachable())
	defer cache.Close()
	c := NewStandingCache(cache, time.Minute)
	ctx := context.Background()

	v, err := c.GetStanding(ctx, "t1", "s1")
	require.Error(t, err)
	assert.Nil(t, v)

	_, err = c.Generation(ctx, "t1")
	assert.Error(t, err)
	assert.Error(t, c.SetStanding(ctx, 0, query.StandingView{TestID: "t1", StudentID: "s1"}))
	assert.Error(t, c.InvalidateTest(ctx, "t1"))
}

func TestHSetJSONIfVersion_Unreachable(t *testing.T) {
	src := hsetIfVersion.Hash()
	assert.Len(t, src, 40)

	ctx := context.Background()
	cache := NewCacheFromClient(unreachable())
	defer cache.Close()

	written, err := cache.HSetJSONIfVersion(ctx, StandingKey("t1"), "s1", query.StandingView{}, time.Minute, StandingGenerationKey("t1"), 3)
	assert.Error(t, err)
	assert.False(t, written)
}

func TestCache_EmptyKeys(t *testing.T) {
	cache := NewCacheFromClient(unreachable())
	defer cache.Close()
	ctx := context.Background()

	var dst map[string]any
	assert.ErrorIs(t, cache.HGetJSON(ctx, "", "f", &dst), ErrCacheKeyEmpty)

	_, err := cache.HSetJSONIfVersion(ctx, "k", "", 1, 0, "v", 0)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	_, err = cache.HSetJSONIfVersion(ctx, "k", "f", 1, 0, "", 0)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	_, err = cache.Version(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	assert.ErrorIs(t, cache.BumpVersion(ctx, "", time.Minute), ErrCacheKeyEmpty)
}
