package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis("test", rdb, zap.NewNop()), mr
}

func TestRedis_PutGet(t *testing.T) {
	c, _ := newTestRedis(t)

	q := types.ProtocolQuote{Protocol: "1inch", ToAmount: decimal.RequireFromString("2510")}
	c.Put(context.Background(), "fp", q, 30*time.Second)

	got, ok := c.Get(context.Background(), "fp")
	require.True(t, ok)
	assert.Equal(t, types.ProtocolID("1inch"), got.Protocol)
	assert.True(t, got.ToAmount.Equal(q.ToAmount))
}

func TestRedis_MissOnUnknownKey(t *testing.T) {
	c, _ := newTestRedis(t)

	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
}

func TestRedis_ServerSideTTLExpiry(t *testing.T) {
	c, mr := newTestRedis(t)

	c.Put(context.Background(), "fp", types.ProtocolQuote{Protocol: "1inch"}, 30*time.Second)
	mr.FastForward(31 * time.Second)

	_, ok := c.Get(context.Background(), "fp")
	assert.False(t, ok, "expired entries never come back")
}

func TestRedis_ZeroTTLNotStored(t *testing.T) {
	c, mr := newTestRedis(t)

	c.Put(context.Background(), "fp", types.ProtocolQuote{}, 0)
	assert.Empty(t, mr.Keys())
}

func TestRedis_CorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestRedis(t)

	require.NoError(t, mr.Set("quote:test:fp", "{not json"))
	_, ok := c.Get(context.Background(), "fp")
	assert.False(t, ok, "corrupt entries degrade to misses instead of failing the request")
}

func TestRedis_ConnectionFailureIsMiss(t *testing.T) {
	c, mr := newTestRedis(t)
	mr.Close()

	_, ok := c.Get(context.Background(), "fp")
	assert.False(t, ok)
	c.Put(context.Background(), "fp", types.ProtocolQuote{}, time.Minute) // must not panic
}

func TestRedis_PurgeOnlyOwnNamespace(t *testing.T) {
	c, mr := newTestRedis(t)

	c.Put(context.Background(), "a", types.ProtocolQuote{}, time.Minute)
	c.Put(context.Background(), "b", types.ProtocolQuote{}, time.Minute)
	require.NoError(t, mr.Set("quote:other:a", "keep"))

	c.Purge(context.Background())

	assert.False(t, mr.Exists("quote:test:a"))
	assert.False(t, mr.Exists("quote:test:b"))
	assert.True(t, mr.Exists("quote:other:a"), "purge stays inside its own cache namespace")
}
