// Package meson adapts the Meson stable-asset bridge API to the
// ProtocolAdapter contract. Meson addresses assets as "chain:token" slugs
// and moves them 1:1 minus a flat fee, so price impact is zero and amount
// bounds come back with the price.
package meson

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

const ID types.ProtocolID = "meson"

const quoteTTL = 60 * time.Second

// chainSlugs maps EVM chain ids to Meson's chain identifiers.
var chainSlugs = map[uint64]string{
	1:     "eth",
	10:    "opt",
	56:    "bnb",
	137:   "polygon",
	42161: "arb",
	43114: "avax",
}

type Adapter struct {
	cfg    config.AdapterCfg
	client *adapter.Client
	log    *zap.Logger
}

func New(cfg config.AdapterCfg, log *zap.Logger) *Adapter {
	return &Adapter{cfg: cfg, client: adapter.NewClient(cfg, "", log), log: log}
}

func (a *Adapter) ID() types.ProtocolID    { return ID }
func (a *Adapter) Kind() types.AdapterKind { return types.KindBridge }

func (a *Adapter) SupportsPair(from, to types.Token) bool {
	if from.ChainID == to.ChainID {
		return false
	}
	_, fromOK := chainSlugs[from.ChainID]
	_, toOK := chainSlugs[to.ChainID]
	return fromOK && toOK
}

func slug(t types.Token) string {
	return chainSlugs[t.ChainID] + ":" + strings.ToLower(t.Symbol)
}

type priceReq struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	FromAddress string `json:"fromAddress,omitempty"`
}

type priceResp struct {
	Fee           string `json:"fee"`
	EstimatedTime int    `json:"estimatedTime"`
	MinAmount     string `json:"minAmount"`
	MaxAmount     string `json:"maxAmount"`
	Error         string `json:"error,omitempty"`
}

func (a *Adapter) Quote(ctx context.Context, req types.QuoteRequest) (*types.ProtocolQuote, error) {
	if !a.SupportsPair(req.FromToken, req.ToToken) {
		return nil, types.ProtocolError(types.ErrTokenNotSupported, ID,
			fmt.Sprintf("route %d -> %d", req.FromToken.ChainID, req.ToToken.ChainID), nil)
	}

	body := priceReq{
		From:        slug(req.FromToken),
		To:          slug(req.ToToken),
		Amount:      req.Amount.String(),
		FromAddress: req.UserAddress,
	}
	var pr priceResp
	if err := a.client.PostJSON(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/price", body, &pr); err != nil {
		return nil, err
	}
	if pr.Error != "" {
		return nil, types.ProtocolError(types.ErrAPI, ID, pr.Error, nil)
	}

	fee, err := decimal.NewFromString(pr.Fee)
	if err != nil {
		return nil, types.ProtocolError(types.ErrAPI, ID, "malformed fee", err)
	}
	if minAmt, err := decimal.NewFromString(pr.MinAmount); err == nil && req.Amount.LessThan(minAmt) {
		return nil, types.ProtocolError(types.ErrAmountTooSmall, ID,
			fmt.Sprintf("amount below bridge minimum %s", pr.MinAmount), nil)
	}
	if maxAmt, err := decimal.NewFromString(pr.MaxAmount); err == nil && maxAmt.IsPositive() && req.Amount.GreaterThan(maxAmt) {
		return nil, types.ProtocolError(types.ErrAmountTooLarge, ID,
			fmt.Sprintf("amount above bridge maximum %s", pr.MaxAmount), nil)
	}

	toAmount := req.Amount.Sub(fee)
	if !toAmount.IsPositive() {
		return nil, types.ProtocolError(types.ErrAmountTooSmall, ID, "fee exceeds amount", nil)
	}
	wait := pr.EstimatedTime
	if wait == 0 {
		wait = 120
	}

	route := []types.RouteStep{{
		Protocol:       ID,
		FromToken:      req.FromToken,
		ToToken:        req.ToToken,
		PercentOfTotal: decimal.NewFromInt(100),
	}}

	return &types.ProtocolQuote{
		Protocol:         ID,
		Kind:             types.KindBridge,
		FromToken:        req.FromToken,
		ToToken:          req.ToToken,
		FromAmount:       req.Amount,
		ToAmount:         toAmount,
		ToAmountMin:      types.MinimumOut(toAmount, req.SlippagePercent),
		PriceImpactPct:   decimal.Zero,
		GasEstimate:      120_000,
		TotalFee:         fee,
		EstimatedTimeSec: wait,
		Route:            route,
		ValidUntil:       time.Now().Add(quoteTTL).UnixMilli(),
		Confidence:       0.95,
	}, nil
}

type encodeReq struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	FromAddress string `json:"fromAddress"`
	Recipient   string `json:"recipient"`
	ExpireTs    int64  `json:"expireTs"`
}

type encodeResp struct {
	Encoded        string `json:"encoded"`
	ContractAddr   string `json:"contractAddress"`
	SigningRequest struct {
		Message string `json:"message"`
		Hash    string `json:"hash"`
	} `json:"signingRequest"`
}

func (a *Adapter) BuildTransaction(ctx context.Context, quote *types.ProtocolQuote, userAddr string, deadline time.Time) (*types.TransactionParams, error) {
	if quote.Expired(time.Now()) {
		return nil, types.ProtocolError(types.ErrQuoteExpired, ID, "quote past validUntil, re-quote required", nil)
	}
	if deadline.IsZero() {
		deadline = time.Now().Add(10 * time.Minute)
	}

	body := encodeReq{
		From:        slug(quote.FromToken),
		To:          slug(quote.ToToken),
		Amount:      quote.FromAmount.String(),
		FromAddress: userAddr,
		Recipient:   userAddr,
		ExpireTs:    deadline.Unix(),
	}
	var er encodeResp
	if err := a.client.PostJSON(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/swap/encode", body, &er); err != nil {
		return nil, err
	}

	return &types.TransactionParams{
		To:       er.ContractAddr,
		Data:     er.Encoded,
		Value:    decimal.Zero,
		GasLimit: quote.GasEstimate,
		GasPrice: decimal.Zero,
		ChainID:  quote.FromToken.ChainID,
		Deadline: deadline.Unix(),
	}, nil
}
