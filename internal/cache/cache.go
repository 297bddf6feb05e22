// Package cache implements the fingerprint-keyed, TTL-based quote cache
// shared by both aggregators and the engine.
package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/toary310/crosschain-dex-sub001/internal/metrics"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"golang.org/x/crypto/sha3"
)

// Fingerprint is a stable hash of a request's economically relevant fields.
// Addresses are lowercased so identity matches Token.Key semantics.
func Fingerprint(req types.QuoteRequest) string {
	h := sha3.New256()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d",
		strings.ToLower(req.FromToken.Address),
		strings.ToLower(req.ToToken.Address),
		req.Amount.String(),
		req.SlippagePercent.String(),
		req.FromToken.ChainID,
		req.ToToken.ChainID,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one cached winning quote.
type Entry struct {
	Fingerprint string              `json:"fingerprint"`
	Quote       types.ProtocolQuote `json:"quote"`
	InsertedAt  time.Time           `json:"insertedAt"`
	TTL         time.Duration       `json:"ttlMs"`
}

func (e Entry) expired(now time.Time) bool {
	return now.After(e.InsertedAt.Add(e.TTL))
}

// Cache is the quote store contract. Get returns ok=false on a miss or an
// expired entry; expired entries are evicted lazily.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*types.ProtocolQuote, bool)
	Put(ctx context.Context, fingerprint string, quote types.ProtocolQuote, ttl time.Duration)
	Purge(ctx context.Context)
}

// Memory is the default in-process implementation: a mutex-guarded map with
// lazy eviction on Get. Sweep bounds memory; it is not needed for
// correctness.
type Memory struct {
	name string
	mu   sync.Mutex
	m    map[string]Entry
	now  func() time.Time
}

func NewMemory(name string) *Memory {
	return &Memory{name: name, m: make(map[string]Entry, 64), now: time.Now}
}

func (c *Memory) Get(_ context.Context, fp string) (*types.ProtocolQuote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[fp]
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.m, fp)
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	q := e.Quote
	return &q, true
}

func (c *Memory) Put(_ context.Context, fp string, q types.ProtocolQuote, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.m[fp] = Entry{Fingerprint: fp, Quote: q, InsertedAt: c.now(), TTL: ttl}
	c.mu.Unlock()
}

func (c *Memory) Purge(_ context.Context) {
	c.mu.Lock()
	c.m = make(map[string]Entry, 64)
	c.mu.Unlock()
}

// Len returns the number of resident entries, expired included.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Sweep evicts expired entries every interval until ctx is done.
func (c *Memory) Sweep(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := c.now()
			c.mu.Lock()
			for fp, e := range c.m {
				if e.expired(now) {
					delete(c.m, fp)
				}
			}
			c.mu.Unlock()
		}
	}
}
