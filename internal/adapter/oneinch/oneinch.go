// Package oneinch adapts the 1inch aggregation API (v5-style) to the
// ProtocolAdapter contract.
package oneinch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

const ID types.ProtocolID = "1inch"

// quoteTTL is how long 1inch quotes stay usable; the API itself gives no
// validity window.
const quoteTTL = 30 * time.Second

type Adapter struct {
	cfg    config.AdapterCfg
	client *adapter.Client
	chains map[uint64]bool
	log    *zap.Logger
}

func New(cfg config.AdapterCfg, chains []uint64, log *zap.Logger) *Adapter {
	cm := make(map[uint64]bool, len(chains))
	for _, c := range chains {
		cm[c] = true
	}
	if len(cm) == 0 {
		cm[1] = true
	}
	return &Adapter{
		cfg:    cfg,
		client: adapter.NewClient(cfg, "Authorization", log),
		chains: cm,
		log:    log,
	}
}

func (a *Adapter) ID() types.ProtocolID    { return ID }
func (a *Adapter) Kind() types.AdapterKind { return types.KindSwap }

func (a *Adapter) SupportsPair(from, to types.Token) bool {
	if from.ChainID != to.ChainID {
		return false
	}
	if !a.chains[from.ChainID] {
		return false
	}
	_, fromOK := from.EVMAddress()
	_, toOK := to.EVMAddress()
	return fromOK && toOK
}

type quoteResp struct {
	FromTokenAmount string `json:"fromTokenAmount"`
	ToTokenAmount   string `json:"toTokenAmount"`
	EstimatedGas    uint64 `json:"estimatedGas"`
	Protocols       [][]struct {
		Name             string `json:"name"`
		Part             float64 `json:"part"`
		FromTokenAddress string `json:"fromTokenAddress"`
		ToTokenAddress   string `json:"toTokenAddress"`
	} `json:"protocols"`
	EstimatedPriceImpact string `json:"estimatedPriceImpact,omitempty"`
}

func (a *Adapter) Quote(ctx context.Context, req types.QuoteRequest) (*types.ProtocolQuote, error) {
	if !a.SupportsPair(req.FromToken, req.ToToken) {
		return nil, types.ProtocolError(types.ErrTokenNotSupported, ID,
			fmt.Sprintf("pair %s -> %s", req.FromToken.Symbol, req.ToToken.Symbol), nil)
	}

	q := url.Values{}
	q.Set("fromTokenAddress", req.FromToken.Address)
	q.Set("toTokenAddress", req.ToToken.Address)
	q.Set("amount", req.Amount.String())
	q.Set("slippage", req.SlippagePercent.String())
	endpoint := fmt.Sprintf("%s/%d/quote?%s", strings.TrimRight(a.cfg.BaseURL, "/"), req.FromToken.ChainID, q.Encode())

	start := time.Now()
	var qr quoteResp
	if err := a.client.GetJSON(ctx, endpoint, &qr); err != nil {
		return nil, classifyAmountErr(err)
	}

	toAmount, err := decimal.NewFromString(qr.ToTokenAmount)
	if err != nil {
		return nil, types.ProtocolError(types.ErrAPI, ID, "malformed toTokenAmount", err)
	}
	impact := decimal.NewFromFloat(0.1)
	if qr.EstimatedPriceImpact != "" {
		if p, err := decimal.NewFromString(qr.EstimatedPriceImpact); err == nil {
			impact = p
		}
	}

	route := make([]types.RouteStep, 0, 2)
	for _, hop := range qr.Protocols {
		for _, leg := range hop {
			route = append(route, types.RouteStep{
				Protocol:       types.ProtocolID(leg.Name),
				FromToken:      types.Token{Address: leg.FromTokenAddress, ChainID: req.FromToken.ChainID},
				ToToken:        types.Token{Address: leg.ToTokenAddress, ChainID: req.FromToken.ChainID},
				PercentOfTotal: decimal.NewFromFloat(leg.Part),
			})
		}
	}
	if len(route) == 0 {
		route = append(route, types.RouteStep{
			Protocol:       ID,
			FromToken:      req.FromToken,
			ToToken:        req.ToToken,
			PercentOfTotal: decimal.NewFromInt(100),
		})
	}

	return &types.ProtocolQuote{
		Protocol:       ID,
		Kind:           types.KindSwap,
		FromToken:      req.FromToken,
		ToToken:        req.ToToken,
		FromAmount:     req.Amount,
		ToAmount:       toAmount,
		ToAmountMin:    types.MinimumOut(toAmount, req.SlippagePercent),
		PriceImpactPct: impact,
		GasEstimate:    qr.EstimatedGas,
		Route:          route,
		ValidUntil:     time.Now().Add(quoteTTL).UnixMilli(),
		Confidence:     confidence(time.Since(start), qr.EstimatedGas > 0),
	}, nil
}

type swapResp struct {
	Tx struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		GasPrice string `json:"gasPrice"`
		Gas      uint64 `json:"gas"`
	} `json:"tx"`
}

func (a *Adapter) BuildTransaction(ctx context.Context, quote *types.ProtocolQuote, userAddr string, deadline time.Time) (*types.TransactionParams, error) {
	if quote.Expired(time.Now()) {
		return nil, types.ProtocolError(types.ErrQuoteExpired, ID, "quote past validUntil, re-quote required", nil)
	}

	q := url.Values{}
	q.Set("fromTokenAddress", quote.FromToken.Address)
	q.Set("toTokenAddress", quote.ToToken.Address)
	q.Set("amount", quote.FromAmount.String())
	q.Set("fromAddress", userAddr)
	if !deadline.IsZero() {
		q.Set("deadline", fmt.Sprintf("%d", deadline.Unix()))
	}
	endpoint := fmt.Sprintf("%s/%d/swap?%s", strings.TrimRight(a.cfg.BaseURL, "/"), quote.FromToken.ChainID, q.Encode())

	var sr swapResp
	if err := a.client.GetJSON(ctx, endpoint, &sr); err != nil {
		return nil, err
	}
	value, _ := decimal.NewFromString(sr.Tx.Value)
	gasPrice, _ := decimal.NewFromString(sr.Tx.GasPrice)

	return &types.TransactionParams{
		To:       sr.Tx.To,
		Data:     sr.Tx.Data,
		Value:    value,
		GasLimit: sr.Tx.Gas,
		GasPrice: gasPrice,
		ChainID:  quote.FromToken.ChainID,
		Deadline: deadlineUnix(deadline),
	}, nil
}

func deadlineUnix(d time.Time) int64 {
	if d.IsZero() {
		return 0
	}
	return d.Unix()
}

// confidence scores a quote from response latency and data completeness,
// clamped to [0, 1].
func confidence(latency time.Duration, hasGas bool) float64 {
	c := 0.8
	if latency < 500*time.Millisecond {
		c += 0.1
	} else if latency > 2*time.Second {
		c -= 0.1
	}
	if hasGas {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// classifyAmountErr promotes API errors whose body names an amount bound to
// the typed AmountTooSmall/AmountTooLarge kinds.
func classifyAmountErr(err error) error {
	var he *adapter.HTTPError
	if !errors.As(err, &he) {
		return err
	}
	body := strings.ToLower(he.Body)
	switch {
	case strings.Contains(body, "amount is too small") || strings.Contains(body, "min amount"):
		return types.ProtocolError(types.ErrAmountTooSmall, ID, he.Body, he)
	case strings.Contains(body, "amount is too big") || strings.Contains(body, "max amount"):
		return types.ProtocolError(types.ErrAmountTooLarge, ID, he.Body, he)
	case strings.Contains(body, "cannot find token") || strings.Contains(body, "not supported"):
		return types.ProtocolError(types.ErrTokenNotSupported, ID, he.Body, he)
	}
	return err
}
