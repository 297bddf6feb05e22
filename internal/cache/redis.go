package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/toary310/crosschain-dex-sub001/internal/metrics"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

// Redis is an optional distributed cache so several engine instances share
// winning quotes. TTL is enforced server-side; Get never returns a stale
// entry. All Redis failures degrade to cache misses.
type Redis struct {
	name string
	rdb  *redis.Client
	log  *zap.Logger
}

func NewRedis(name string, rdb *redis.Client, log *zap.Logger) *Redis {
	return &Redis{name: name, rdb: rdb, log: log}
}

func (c *Redis) key(fp string) string { return "quote:" + c.name + ":" + fp }

func (c *Redis) Get(ctx context.Context, fp string) (*types.ProtocolQuote, bool) {
	b, err := c.rdb.Get(ctx, c.key(fp)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("redis cache get failed", zap.Error(err))
		}
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		c.log.Warn("redis cache entry corrupt", zap.Error(err))
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return &e.Quote, true
}

func (c *Redis) Put(ctx context.Context, fp string, q types.ProtocolQuote, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := Entry{Fingerprint: fp, Quote: q, InsertedAt: time.Now(), TTL: ttl}
	b, err := json.Marshal(e)
	if err != nil {
		c.log.Warn("redis cache encode failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, c.key(fp), b, ttl).Err(); err != nil {
		c.log.Warn("redis cache put failed", zap.Error(err))
	}
}

func (c *Redis) Purge(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, c.key("*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.Warn("redis cache purge failed", zap.Error(err))
			return
		}
	}
}
