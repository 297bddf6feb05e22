package security

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/toary310/crosschain-dex-sub001/internal/adapter"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

// ContractSource answers whether a contract's source is verified on its
// chain's explorer.
type ContractSource interface {
	Verified(ctx context.Context, chainID uint64, address string) (bool, error)
}

// TokenRisk is the external risk profile of one token.
type TokenRisk struct {
	Honeypot    bool    `json:"honeypot"`
	Blacklisted bool    `json:"blacklisted"`
	TransferTax float64 `json:"transferTaxPct"`
}

// TokenRiskSource looks up honeypot/blacklist/transfer-tax heuristics.
type TokenRiskSource interface {
	Assess(ctx context.Context, token types.Token) (TokenRisk, error)
}

// httpContractSource queries an explorer-style verification API.
type httpContractSource struct {
	baseURL string
	client  *adapter.Client
}

// NewHTTPContractSource builds a ContractSource over the configured
// verification API. cfg.BaseURL names the API root.
func NewHTTPContractSource(cfg config.AdapterCfg, log *zap.Logger) ContractSource {
	return &httpContractSource{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: adapter.NewClient(cfg, "", log)}
}

func (s *httpContractSource) Verified(ctx context.Context, chainID uint64, address string) (bool, error) {
	var resp struct {
		Verified bool `json:"verified"`
	}
	endpoint := fmt.Sprintf("%s/contract/%d/%s", s.baseURL, chainID, url.PathEscape(strings.ToLower(address)))
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

// httpTokenRiskSource queries a token screening API.
type httpTokenRiskSource struct {
	baseURL string
	client  *adapter.Client
}

func NewHTTPTokenRiskSource(cfg config.AdapterCfg, log *zap.Logger) TokenRiskSource {
	return &httpTokenRiskSource{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: adapter.NewClient(cfg, "", log)}
}

func (s *httpTokenRiskSource) Assess(ctx context.Context, token types.Token) (TokenRisk, error) {
	var resp struct {
		Honeypot    bool    `json:"isHoneypot"`
		Blacklisted bool    `json:"isBlacklisted"`
		BuyTax      float64 `json:"buyTaxPct"`
		SellTax     float64 `json:"sellTaxPct"`
	}
	endpoint := fmt.Sprintf("%s/token/%d/%s", s.baseURL, token.ChainID, url.PathEscape(strings.ToLower(token.Address)))
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return TokenRisk{}, err
	}
	tax := resp.BuyTax
	if resp.SellTax > tax {
		tax = resp.SellTax
	}
	return TokenRisk{Honeypot: resp.Honeypot, Blacklisted: resp.Blacklisted, TransferTax: tax}, nil
}

// lookupCache memoizes lookups per key with a TTL so repeated validations of
// the same contract or token stay off the network.
type lookupCache[V any] struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]lookupEntry[V]
}

type lookupEntry[V any] struct {
	v   V
	exp time.Time
}

func newLookupCache[V any](ttl time.Duration) *lookupCache[V] {
	return &lookupCache[V]{ttl: ttl, m: make(map[string]lookupEntry[V], 32)}
}

func (c *lookupCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Now().After(e.exp) {
		delete(c.m, key)
		var zero V
		return zero, false
	}
	return e.v, true
}

func (c *lookupCache[V]) put(key string, v V) {
	c.mu.Lock()
	c.m[key] = lookupEntry[V]{v: v, exp: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
