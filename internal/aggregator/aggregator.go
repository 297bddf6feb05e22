// Package aggregator turns one quote request into the best available
// ProtocolQuote by querying every eligible adapter, absorbing per-adapter
// failures along the way.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter"
	"github.com/toary310/crosschain-dex-sub001/internal/cache"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Result is the aggregation outcome. Best == nil means no adapter produced a
// usable quote; that is a soft NoQuotesAvailable outcome, not an error.
type Result struct {
	Quotes         []Scored             `json:"quotes"` // ranked, best first
	Best           *types.ProtocolQuote `json:"best,omitempty"`
	ImpactFallback bool                 `json:"impactFallback"` // every candidate broke the impact ceiling
	FromCache      bool                 `json:"fromCache"`
}

// Options carries the aggregation knobs; all of them come from configuration.
type Options struct {
	Mode            config.Mode
	Deadline        time.Duration
	CacheTTL        time.Duration
	MaxImpactPct    decimal.Decimal
	GasOptimization bool
	Weights         config.ScoringWeights
	CallTimeouts    map[types.ProtocolID]time.Duration
	DefaultTimeout  time.Duration
}

// OptionsFromConfig derives Options, including per-adapter call timeouts.
func OptionsFromConfig(cfg *config.Config) Options {
	timeouts := make(map[types.ProtocolID]time.Duration, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		timeouts[a.Protocol] = a.Timeout()
	}
	return Options{
		Mode:            cfg.Mode,
		Deadline:        cfg.AggregateDeadline(),
		CacheTTL:        cfg.CacheTTL(),
		MaxImpactPct:    decimal.NewFromFloat(cfg.Aggregator.MaxPriceImpactPct),
		GasOptimization: cfg.Aggregator.GasOptimization,
		Weights:         cfg.Scoring,
		CallTimeouts:    timeouts,
		DefaultTimeout:  10 * time.Second,
	}
}

// Aggregator fans a request out over the adapters of one kind. DexAggregator
// and BridgeAggregator below are the two instantiations; they share the
// algorithm because it is identical aside from the adapter set.
type Aggregator struct {
	kind  types.AdapterKind
	reg   *adapter.Registry
	cache cache.Cache
	opts  Options
	log   *zap.Logger
	sf    singleflight.Group
}

func newAggregator(kind types.AdapterKind, reg *adapter.Registry, c cache.Cache, opts Options, log *zap.Logger) *Aggregator {
	return &Aggregator{kind: kind, reg: reg, cache: c, opts: opts, log: log}
}

// GetQuote runs the full aggregation: cache, fan-out, impact filter,
// scoring, winner caching.
func (g *Aggregator) GetQuote(ctx context.Context, req types.QuoteRequest) (*Result, error) {
	fp := cache.Fingerprint(req)

	if q, ok := g.cache.Get(ctx, fp); ok {
		return &Result{
			Quotes:    []Scored{{Quote: *q, Score: 1}},
			Best:      q,
			FromCache: true,
		}, nil
	}

	// Single-flight collapses concurrent identical misses into one network
	// round. This is a documented optimization: TTL semantics only promise
	// at-most-stale, not at-most-once.
	v, err, _ := g.sf.Do(fp, func() (any, error) {
		return g.aggregate(ctx, req, fp)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (g *Aggregator) aggregate(ctx context.Context, req types.QuoteRequest, fp string) (*Result, error) {
	adapters := g.reg.Eligible(g.kind, req)
	if len(adapters) == 0 {
		g.log.Debug("no eligible adapters",
			zap.String("kind", string(g.kind)),
			zap.String("pair", req.FromToken.Symbol+"->"+req.ToToken.Symbol),
		)
		return &Result{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Deadline)
	defer cancel()

	var collected []types.ProtocolQuote
	if g.opts.Mode == config.ModeSequential {
		collected = g.fanOutSequential(ctx, adapters, req)
	} else {
		collected = g.fanOutParallel(ctx, adapters, req)
	}
	if len(collected) == 0 {
		return &Result{}, nil
	}

	// Impact ceiling filter. If it removes everything, surface the single
	// lowest-impact candidate with a fallback flag instead of a dead end.
	kept := collected[:0:0]
	for _, q := range collected {
		if q.PriceImpactPct.LessThanOrEqual(g.opts.MaxImpactPct) {
			kept = append(kept, q)
		}
	}
	fallback := false
	if len(kept) == 0 {
		fallback = true
		lowest := collected[0]
		for _, q := range collected[1:] {
			if q.PriceImpactPct.LessThan(lowest.PriceImpactPct) {
				lowest = q
			}
		}
		kept = []types.ProtocolQuote{lowest}
		g.log.Warn("all quotes above impact ceiling, falling back to lowest",
			zap.String("protocol", string(lowest.Protocol)),
			zap.String("impact_pct", lowest.PriceImpactPct.String()),
		)
	}

	ranked := rank(kept, g.opts.Weights, g.opts.MaxImpactPct, g.opts.GasOptimization)
	best := ranked[0].Quote
	g.cache.Put(ctx, fp, best, g.opts.CacheTTL)

	return &Result{Quotes: ranked, Best: &best, ImpactFallback: fallback}, nil
}

func (g *Aggregator) fanOutParallel(ctx context.Context, adapters []adapter.ProtocolAdapter, req types.QuoteRequest) []types.ProtocolQuote {
	var (
		mu        sync.Mutex
		collected []types.ProtocolQuote
		wg        sync.WaitGroup
	)
	for _, a := range adapters {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, g.timeoutFor(a.ID()))
			defer cancel()
			q, err := a.Quote(callCtx, req)
			if err != nil {
				g.logAdapterFailure(a.ID(), err)
				return
			}
			mu.Lock()
			collected = append(collected, *q)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return collected
}

// fanOutSequential queries adapters one at a time, continuing past failures.
// Used when operating under strict shared rate limits.
func (g *Aggregator) fanOutSequential(ctx context.Context, adapters []adapter.ProtocolAdapter, req types.QuoteRequest) []types.ProtocolQuote {
	var collected []types.ProtocolQuote
	for _, a := range adapters {
		if ctx.Err() != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, g.timeoutFor(a.ID()))
		q, err := a.Quote(callCtx, req)
		cancel()
		if err != nil {
			g.logAdapterFailure(a.ID(), err)
			continue
		}
		collected = append(collected, *q)
	}
	return collected
}

func (g *Aggregator) timeoutFor(id types.ProtocolID) time.Duration {
	if d, ok := g.opts.CallTimeouts[id]; ok && d > 0 {
		return d
	}
	return g.opts.DefaultTimeout
}

// Adapter failures are absorbed, never propagated: the output is best-effort
// over whatever subset responded.
func (g *Aggregator) logAdapterFailure(id types.ProtocolID, err error) {
	g.log.Debug("adapter failed, skipping",
		zap.String("protocol", string(id)),
		zap.String("kind", string(types.KindOf(err))),
		zap.Error(err),
	)
}

// DexAggregator aggregates same-chain swap protocols.
type DexAggregator struct{ *Aggregator }

func NewDex(reg *adapter.Registry, c cache.Cache, opts Options, log *zap.Logger) *DexAggregator {
	return &DexAggregator{newAggregator(types.KindSwap, reg, c, opts, log.Named("dex"))}
}

// BridgeAggregator aggregates cross-chain bridge protocols with multi-step
// routes.
type BridgeAggregator struct{ *Aggregator }

func NewBridge(reg *adapter.Registry, c cache.Cache, opts Options, log *zap.Logger) *BridgeAggregator {
	return &BridgeAggregator{newAggregator(types.KindBridge, reg, c, opts, log.Named("bridge"))}
}
