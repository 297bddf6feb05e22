// Package paraswap adapts the ParaSwap prices/transactions API to the
// ProtocolAdapter contract.
package paraswap

import (
	"context"
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

const ID types.ProtocolID = "paraswap"

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
	return &Adapter{cfg: cfg, client: adapter.NewClient(cfg, "X-API-Key", log), chains: cm, log: log}
}

func (a *Adapter) ID() types.ProtocolID    { return ID }
func (a *Adapter) Kind() types.AdapterKind { return types.KindSwap }

func (a *Adapter) SupportsPair(from, to types.Token) bool {
	if from.ChainID != to.ChainID || !a.chains[from.ChainID] {
		return false
	}
	_, fromOK := from.EVMAddress()
	_, toOK := to.EVMAddress()
	return fromOK && toOK
}

// priceRoute mirrors the part of ParaSwap's priceRoute object the engine
// consumes.
type pricesResp struct {
	PriceRoute struct {
		SrcAmount   string `json:"srcAmount"`
		DestAmount  string `json:"destAmount"`
		GasCost     string `json:"gasCost"`
		Side        string `json:"side"`
		BestRoute   []struct {
			Percent float64 `json:"percent"`
			Swaps   []struct {
				SrcToken      string `json:"srcToken"`
				DestToken     string `json:"destToken"`
				SwapExchanges []struct {
					Exchange      string   `json:"exchange"`
					Percent       float64  `json:"percent"`
					PoolAddresses []string `json:"poolAddresses"`
				} `json:"swapExchanges"`
			} `json:"swaps"`
		} `json:"bestRoute"`
		MaxImpactReached bool   `json:"maxImpactReached"`
		PriceImpact      string `json:"priceImpact,omitempty"`
	} `json:"priceRoute"`
	Error string `json:"error,omitempty"`
}

func (a *Adapter) Quote(ctx context.Context, req types.QuoteRequest) (*types.ProtocolQuote, error) {
	if !a.SupportsPair(req.FromToken, req.ToToken) {
		return nil, types.ProtocolError(types.ErrTokenNotSupported, ID,
			fmt.Sprintf("pair %s -> %s", req.FromToken.Symbol, req.ToToken.Symbol), nil)
	}

	q := url.Values{}
	q.Set("srcToken", req.FromToken.Address)
	q.Set("destToken", req.ToToken.Address)
	q.Set("srcDecimals", fmt.Sprintf("%d", req.FromToken.Decimals))
	q.Set("destDecimals", fmt.Sprintf("%d", req.ToToken.Decimals))
	q.Set("amount", req.Amount.String())
	q.Set("side", "SELL")
	q.Set("network", fmt.Sprintf("%d", req.FromToken.ChainID))
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/prices?" + q.Encode()

	start := time.Now()
	var pr pricesResp
	if err := a.client.GetJSON(ctx, endpoint, &pr); err != nil {
		return nil, err
	}
	if pr.Error != "" {
		low := strings.ToLower(pr.Error)
		kind := types.ErrAPI
		switch {
		case strings.Contains(low, "too small"):
			kind = types.ErrAmountTooSmall
		case strings.Contains(low, "too big") || strings.Contains(low, "too large"):
			kind = types.ErrAmountTooLarge
		case strings.Contains(low, "token not found"):
			kind = types.ErrTokenNotSupported
		}
		return nil, types.ProtocolError(kind, ID, pr.Error, nil)
	}

	toAmount, err := decimal.NewFromString(pr.PriceRoute.DestAmount)
	if err != nil {
		return nil, types.ProtocolError(types.ErrAPI, ID, "malformed destAmount", err)
	}
	gasCost, _ := decimal.NewFromString(pr.PriceRoute.GasCost)
	impact := decimal.NewFromFloat(0.1)
	if pr.PriceRoute.PriceImpact != "" {
		if p, err := decimal.NewFromString(pr.PriceRoute.PriceImpact); err == nil {
			impact = p.Abs()
		}
	}

	var route []types.RouteStep
	for _, leg := range pr.PriceRoute.BestRoute {
		for _, sw := range leg.Swaps {
			for _, ex := range sw.SwapExchanges {
				pool := ""
				if len(ex.PoolAddresses) > 0 {
					pool = ex.PoolAddresses[0]
				}
				route = append(route, types.RouteStep{
					Protocol:       types.ProtocolID(ex.Exchange),
					FromToken:      types.Token{Address: sw.SrcToken, ChainID: req.FromToken.ChainID},
					ToToken:        types.Token{Address: sw.DestToken, ChainID: req.FromToken.ChainID},
					PercentOfTotal: decimal.NewFromFloat(leg.Percent * ex.Percent / 100),
					PoolAddress:    pool,
				})
			}
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

	conf := 0.85
	if time.Since(start) > 2*time.Second {
		conf = 0.7
	}
	if pr.PriceRoute.MaxImpactReached {
		conf -= 0.2
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
		GasEstimate:    uint64(gasCost.IntPart()),
		Route:          route,
		ValidUntil:     time.Now().Add(quoteTTL).UnixMilli(),
		Confidence:     conf,
	}, nil
}

type txReq struct {
	SrcToken    string `json:"srcToken"`
	DestToken   string `json:"destToken"`
	SrcAmount   string `json:"srcAmount"`
	DestAmount  string `json:"destAmount"`
	UserAddress string `json:"userAddress"`
	Deadline    int64  `json:"deadline,omitempty"`
}

type txResp struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasPrice string `json:"gasPrice"`
	Gas      uint64 `json:"gas"`
	ChainID  uint64 `json:"chainId"`
}

func (a *Adapter) BuildTransaction(ctx context.Context, quote *types.ProtocolQuote, userAddr string, deadline time.Time) (*types.TransactionParams, error) {
	if quote.Expired(time.Now()) {
		return nil, types.ProtocolError(types.ErrQuoteExpired, ID, "quote past validUntil, re-quote required", nil)
	}

	endpoint := fmt.Sprintf("%s/transactions/%d", strings.TrimRight(a.cfg.BaseURL, "/"), quote.FromToken.ChainID)
	body := txReq{
		SrcToken:    quote.FromToken.Address,
		DestToken:   quote.ToToken.Address,
		SrcAmount:   quote.FromAmount.String(),
		DestAmount:  quote.ToAmountMin.String(),
		UserAddress: userAddr,
	}
	if !deadline.IsZero() {
		body.Deadline = deadline.Unix()
	}

	var tr txResp
	if err := a.client.PostJSON(ctx, endpoint, body, &tr); err != nil {
		return nil, err
	}
	value, _ := decimal.NewFromString(tr.Value)
	gasPrice, _ := decimal.NewFromString(tr.GasPrice)

	return &types.TransactionParams{
		To:       tr.To,
		Data:     tr.Data,
		Value:    value,
		GasLimit: tr.Gas,
		GasPrice: gasPrice,
		ChainID:  quote.FromToken.ChainID,
		Deadline: body.Deadline,
	}, nil
}
