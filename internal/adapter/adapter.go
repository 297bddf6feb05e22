// Package adapter defines the contract every protocol integration
// implements and the registry the aggregators select from.
package adapter

import (
	"context"
	"sort"
	"time"

	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

// ProtocolAdapter wraps one external pricing API. Implementations own their
// rate limiter and retry policy; callers own the timeout via ctx.
type ProtocolAdapter interface {
	ID() types.ProtocolID
	Kind() types.AdapterKind

	// Quote returns the protocol's best answer for the request. Failures are
	// typed: TokenNotSupported, AmountTooSmall/Large, RateLimitExceeded,
	// Timeout, NetworkError, ApiError.
	Quote(ctx context.Context, req types.QuoteRequest) (*types.ProtocolQuote, error)

	// BuildTransaction turns an unexpired quote into transaction parameters.
	// Returns QuoteExpired when now is past quote.ValidUntil.
	BuildTransaction(ctx context.Context, quote *types.ProtocolQuote, userAddr string, deadline time.Time) (*types.TransactionParams, error)

	SupportsPair(from, to types.Token) bool
}

// Registry maps protocol ids to adapter instances. It is constructed once at
// the composition root and read-only afterwards.
type Registry struct {
	adapters map[types.ProtocolID]ProtocolAdapter
}

func NewRegistry(adapters ...ProtocolAdapter) *Registry {
	m := make(map[types.ProtocolID]ProtocolAdapter, len(adapters))
	for _, a := range adapters {
		m[a.ID()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(id types.ProtocolID) ProtocolAdapter { return r.adapters[id] }

// ByKind returns the adapters of one kind in stable id order so downstream
// iteration never depends on map order.
func (r *Registry) ByKind(kind types.AdapterKind) []ProtocolAdapter {
	out := make([]ProtocolAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Eligible filters adapters of the given kind down to those that serve the
// pair and are permitted by the request's allow-list (empty list = all).
func (r *Registry) Eligible(kind types.AdapterKind, req types.QuoteRequest) []ProtocolAdapter {
	allowed := map[types.ProtocolID]bool{}
	for _, id := range req.AllowedProtocols {
		allowed[id] = true
	}
	var out []ProtocolAdapter
	for _, a := range r.ByKind(kind) {
		if len(allowed) > 0 && !allowed[a.ID()] {
			continue
		}
		if !a.SupportsPair(req.FromToken, req.ToToken) {
			continue
		}
		out = append(out, a)
	}
	return out
}
