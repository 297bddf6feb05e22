// Package engine is the single entry point of the quote subsystem. It hides
// the same-chain/cross-chain distinction: callers hand it one request and
// get back ranked UnifiedQuotes with warnings and a risk assessment.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/aggregator"
	"github.com/toary310/crosschain-dex-sub001/internal/cache"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/marketfeed"
	"github.com/toary310/crosschain-dex-sub001/internal/metrics"
	"github.com/toary310/crosschain-dex-sub001/internal/security"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

// Request is the engine's unified input: a quote request plus the caller's
// optimization policy. PreferBridge forces cross-chain handling even when
// both tokens share a chain id (e.g. canonical-asset migrations).
type Request struct {
	types.QuoteRequest
	Optimization Optimization `json:"optimization"`
	PreferBridge bool         `json:"preferBridge,omitempty"`
}

// Response is the engine's public output. Err is a typed result, never a
// panic across the boundary; NoQuotesAvailable arrives as empty Quotes with
// Err == nil-kind soft error string.
type Response struct {
	Quotes    []types.UnifiedQuote `json:"quotes"`
	BestQuote *types.UnifiedQuote  `json:"bestQuote,omitempty"`
	Error     string               `json:"error,omitempty"`
	RequestID string               `json:"requestId"`
	Timestamp int64                `json:"timestamp"` // epoch ms
}

// stage is the per-request state machine. Transitions are logged, terminal
// on delivered/rejected/failed; failures are reported, never swallowed.
type stage string

const (
	stageReceived   stage = "received"
	stageValidated  stage = "validated"
	stageRouted     stage = "routed"
	stageAggregated stage = "aggregated"
	stageOptimized  stage = "optimized"
	stageDelivered  stage = "delivered"
	stageRejected   stage = "rejected"
	stageFailed     stage = "failed"
)

// Engine wires the two aggregators, the validator and the market feed.
// Construct it once at the composition root.
type Engine struct {
	dex       *aggregator.DexAggregator
	bridge    *aggregator.BridgeAggregator
	validator *security.Validator
	market    *marketfeed.Feed
	weights   config.ScoringWeights
	ttl       time.Duration
	log       *zap.Logger

	// Own fingerprint cache over unified quotes; the fingerprint covers both
	// chain ids, the kind prefix separates swap from bridge handling.
	mu      sync.Mutex
	unified map[string]unifiedEntry
	now     func() time.Time
}

type unifiedEntry struct {
	quotes   []types.UnifiedQuote
	best     types.UnifiedQuote
	inserted time.Time
}

func New(dex *aggregator.DexAggregator, bridge *aggregator.BridgeAggregator, validator *security.Validator, market *marketfeed.Feed, weights config.ScoringWeights, cacheTTL time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		dex:       dex,
		bridge:    bridge,
		validator: validator,
		market:    market,
		weights:   weights,
		ttl:       cacheTTL,
		log:       log,
		unified:   make(map[string]unifiedEntry, 64),
		now:       time.Now,
	}
}

// GetQuote runs the full pipeline:
// received -> validated -> routed -> aggregated -> optimized -> delivered.
func (e *Engine) GetQuote(ctx context.Context, req Request) (*Response, error) {
	reqID := uuid.NewString()
	start := e.now()
	log := e.log.With(zap.String("request_id", reqID))
	log.Debug("quote request", zap.String("stage", string(stageReceived)),
		zap.String("pair", req.FromToken.Symbol+"->"+req.ToToken.Symbol))

	if err := validate(req.QuoteRequest); err != nil {
		log.Info("quote request rejected", zap.String("stage", string(stageRejected)), zap.Error(err))
		return nil, err
	}
	log.Debug("quote request", zap.String("stage", string(stageValidated)))

	crossChain := req.CrossChain() || req.PreferBridge
	kind := types.QuoteSwap
	if crossChain {
		kind = types.QuoteBridge
	}
	log.Debug("quote request", zap.String("stage", string(stageRouted)), zap.String("route", string(kind)))

	key := string(kind) + ":" + cache.Fingerprint(req.QuoteRequest)
	if resp, ok := e.cached(key, reqID); ok {
		log.Debug("quote request served from unified cache")
		return resp, nil
	}

	var (
		res *aggregator.Result
		err error
	)
	if crossChain {
		res, err = e.bridge.GetQuote(ctx, req.QuoteRequest)
	} else {
		res, err = e.dex.GetQuote(ctx, req.QuoteRequest)
	}
	if err != nil {
		log.Error("aggregation failed", zap.String("stage", string(stageFailed)), zap.Error(err))
		return nil, err
	}
	log.Debug("quote request", zap.String("stage", string(stageAggregated)),
		zap.Int("candidates", len(res.Quotes)))

	if res.Best == nil {
		// Soft outcome: the caller presents "no liquidity", not a crash.
		return &Response{
			Quotes:    nil,
			Error:     string(types.ErrNoQuotes),
			RequestID: reqID,
			Timestamp: e.now().UnixMilli(),
		}, nil
	}

	quotes := make([]types.UnifiedQuote, 0, len(res.Quotes))
	for _, s := range res.Quotes {
		quotes = append(quotes, e.unify(kind, s.Quote, req, res.ImpactFallback))
	}

	quotes, optWarn := optimize(quotes, req.Optimization, req.SlippagePercent, e.weights)
	if optWarn != nil {
		for i := range quotes {
			quotes[i].Warnings = append(quotes[i].Warnings, *optWarn)
		}
	}
	log.Debug("quote request", zap.String("stage", string(stageOptimized)),
		zap.Int("surviving", len(quotes)))

	best := quotes[0]
	if e.validator != nil {
		best.RiskAssessment = e.assess(ctx, best, req)
		quotes[0] = best
	}

	e.store(key, quotes, best)
	metrics.QuotesServed.WithLabelValues(string(kind)).Inc()
	metrics.QuoteLatency.Observe(e.now().Sub(start).Seconds())
	log.Info("quote delivered", zap.String("stage", string(stageDelivered)),
		zap.String("protocol", string(best.Protocol)),
		zap.String("to_amount", best.ToAmount.String()),
		zap.Duration("took", e.now().Sub(start)),
	)

	return &Response{
		Quotes:    quotes,
		BestQuote: &best,
		RequestID: reqID,
		Timestamp: e.now().UnixMilli(),
	}, nil
}

func validate(req types.QuoteRequest) error {
	if req.FromToken.Address == "" || req.ToToken.Address == "" {
		return types.NewError(types.ErrInvalidRequest, "both token addresses are required")
	}
	if !req.CrossChain() && strings.EqualFold(req.FromToken.Address, req.ToToken.Address) {
		return types.NewError(types.ErrInvalidRequest, "fromToken and toToken are identical")
	}
	if !req.Amount.IsPositive() {
		return types.NewError(types.ErrInvalidRequest, "amount must be positive, got %s", req.Amount)
	}
	if req.SlippagePercent.IsNegative() || req.SlippagePercent.GreaterThan(decimal.NewFromInt(50)) {
		return types.NewError(types.ErrInvalidRequest, "slippage %s%% outside [0, 50]", req.SlippagePercent)
	}
	if req.FromToken.ChainID == 0 || req.ToToken.ChainID == 0 {
		return types.NewError(types.ErrInvalidRequest, "chain ids are required")
	}
	if req.ChainID != 0 && req.ChainID != req.FromToken.ChainID {
		return types.NewError(types.ErrInvalidRequest,
			"chainId %d contradicts fromToken chain %d", req.ChainID, req.FromToken.ChainID)
	}
	return nil
}

// unify converts an aggregator-native quote into the engine's output shape,
// preserving every route step, and attaches the advisory warnings.
func (e *Engine) unify(kind types.QuoteKind, q types.ProtocolQuote, req Request, impactFallback bool) types.UnifiedQuote {
	u := types.UnifiedQuote{
		ID:               uuid.NewString(),
		Kind:             kind,
		Protocol:         q.Protocol,
		FromToken:        q.FromToken,
		ToToken:          q.ToToken,
		FromAmount:       q.FromAmount,
		ToAmount:         q.ToAmount,
		ToAmountMin:      q.ToAmountMin,
		Route:            q.Route,
		TotalGasEstimate: q.GasEstimate,
		TotalFee:         q.TotalFee,
		PriceImpactPct:   q.PriceImpactPct,
		EstimatedTimeSec: q.EstimatedTimeSec,
		Confidence:       q.Confidence,
		ValidUntil:       q.ValidUntil,
	}
	u.Warnings = e.warnings(u, req, impactFallback)
	return u
}

// warnings are advisory and attached to the quote rather than blocking it;
// the security validator runs independently.
func (e *Engine) warnings(q types.UnifiedQuote, req Request, impactFallback bool) []types.QuoteWarning {
	var out []types.QuoteWarning
	if req.SlippagePercent.GreaterThan(decimal.NewFromInt(2)) {
		out = append(out, types.QuoteWarning{
			Code:     types.WarnHighSlippage,
			Severity: types.RiskMedium,
			Message:  fmt.Sprintf("slippage tolerance %s%% is high", req.SlippagePercent),
		})
	}
	if q.PriceImpactPct.GreaterThan(decimal.NewFromInt(5)) {
		out = append(out, types.QuoteWarning{
			Code:     types.WarnHighPriceImpact,
			Severity: types.RiskHigh,
			Message:  fmt.Sprintf("price impact %s%% will move the market", q.PriceImpactPct),
		})
	}
	if impactFallback {
		out = append(out, types.QuoteWarning{
			Code:     types.WarnImpactFallback,
			Severity: types.RiskHigh,
			Message:  "every route exceeded the price-impact ceiling; this is the least bad one",
		})
	}
	if q.Kind == types.QuoteBridge && q.EstimatedTimeSec > 1800 {
		out = append(out, types.QuoteWarning{
			Code:     types.WarnLongBridgeTime,
			Severity: types.RiskMedium,
			Message:  fmt.Sprintf("bridge settlement may take %d minutes", q.EstimatedTimeSec/60),
		})
	}
	if e.market != nil {
		if mc := e.market.Current(); mc.Known() && q.TotalGasEstimate > 0 {
			gasUSD := mc.GasPriceWei.
				Mul(decimal.NewFromInt(int64(q.TotalGasEstimate))).
				Div(decimal.New(1, 18)).
				Mul(mc.NativeUSD)
			if gasUSD.GreaterThan(decimal.NewFromInt(50)) {
				out = append(out, types.QuoteWarning{
					Code:     types.WarnHighGasCost,
					Severity: types.RiskMedium,
					Message:  fmt.Sprintf("estimated gas cost ~$%s", gasUSD.Round(2)),
				})
			}
		}
	}
	return out
}

// assess runs the validator against the transaction the quote implies. The
// candidate has no calldata yet; address and amount checks still apply.
func (e *Engine) assess(ctx context.Context, q types.UnifiedQuote, req Request) *types.RiskAssessment {
	res := e.validator.ValidateTransaction(ctx, types.Transaction{
		Params: types.TransactionParams{
			ChainID:  q.FromToken.ChainID,
			GasLimit: q.TotalGasEstimate,
		},
		FromToken:   q.FromToken,
		ToToken:     q.ToToken,
		FromAmount:  q.FromAmount,
		ToAmountMin: q.ToAmountMin,
		SlippagePct: req.SlippagePercent,
		UserAddress: req.UserAddress,
	})
	return &types.RiskAssessment{Overall: res.Overall, Passed: res.Passed, Score: res.Score}
}

func (e *Engine) cached(key, reqID string) (*Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.unified[key]
	if !ok {
		return nil, false
	}
	if e.now().After(ent.inserted.Add(e.ttl)) {
		delete(e.unified, key)
		return nil, false
	}
	best := ent.best
	return &Response{
		Quotes:    ent.quotes,
		BestQuote: &best,
		RequestID: reqID,
		Timestamp: e.now().UnixMilli(),
	}, true
}

func (e *Engine) store(key string, quotes []types.UnifiedQuote, best types.UnifiedQuote) {
	if e.ttl <= 0 {
		return
	}
	e.mu.Lock()
	e.unified[key] = unifiedEntry{quotes: quotes, best: best, inserted: e.now()}
	e.mu.Unlock()
}
