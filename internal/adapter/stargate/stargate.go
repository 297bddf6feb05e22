// Package stargate adapts a LayerZero/Stargate-style bridge quote API to the
// ProtocolAdapter contract. Routes are two-step: a source-chain swap into the
// bridgeable asset, then the bridge hop itself.
package stargate

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

const ID types.ProtocolID = "stargate"

const quoteTTL = 45 * time.Second

// estimatedWait is the fallback bridge settlement estimate when the API
// omits one.
const estimatedWait = 180

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
		cm[1], cm[10], cm[56], cm[137], cm[42161] = true, true, true, true, true
	}
	return &Adapter{cfg: cfg, client: adapter.NewClient(cfg, "X-API-Key", log), chains: cm, log: log}
}

func (a *Adapter) ID() types.ProtocolID    { return ID }
func (a *Adapter) Kind() types.AdapterKind { return types.KindBridge }

func (a *Adapter) SupportsPair(from, to types.Token) bool {
	if from.ChainID == to.ChainID {
		return false
	}
	return a.chains[from.ChainID] && a.chains[to.ChainID]
}

type quoteResp struct {
	AmountOut       string `json:"amountOut"`
	EqFee           string `json:"eqFee"`       // equilibrium fee
	LpFee           string `json:"lpFee"`       // liquidity provider fee
	ProtocolFee     string `json:"protocolFee"` // layerzero message fee
	GasEstimate     uint64 `json:"gasEstimate"`
	WaitSeconds     int    `json:"estimatedWaitSeconds"`
	BridgeAsset     string `json:"bridgeAsset"`
	BridgeAssetAddr string `json:"bridgeAssetAddress"`
	PoolAddress     string `json:"poolAddress"`
	Error           string `json:"error,omitempty"`
}

func (a *Adapter) Quote(ctx context.Context, req types.QuoteRequest) (*types.ProtocolQuote, error) {
	if !a.SupportsPair(req.FromToken, req.ToToken) {
		return nil, types.ProtocolError(types.ErrTokenNotSupported, ID,
			fmt.Sprintf("route %d -> %d", req.FromToken.ChainID, req.ToToken.ChainID), nil)
	}

	q := url.Values{}
	q.Set("srcChainId", fmt.Sprintf("%d", req.FromToken.ChainID))
	q.Set("dstChainId", fmt.Sprintf("%d", req.ToToken.ChainID))
	q.Set("srcToken", req.FromToken.Address)
	q.Set("dstToken", req.ToToken.Address)
	q.Set("amount", req.Amount.String())
	q.Set("slippage", req.SlippagePercent.String())
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/quote?" + q.Encode()

	var qr quoteResp
	if err := a.client.GetJSON(ctx, endpoint, &qr); err != nil {
		return nil, err
	}
	if qr.Error != "" {
		low := strings.ToLower(qr.Error)
		kind := types.ErrAPI
		switch {
		case strings.Contains(low, "below minimum"):
			kind = types.ErrAmountTooSmall
		case strings.Contains(low, "above maximum") || strings.Contains(low, "insufficient liquidity"):
			kind = types.ErrAmountTooLarge
		case strings.Contains(low, "unsupported"):
			kind = types.ErrTokenNotSupported
		}
		return nil, types.ProtocolError(kind, ID, qr.Error, nil)
	}

	toAmount, err := decimal.NewFromString(qr.AmountOut)
	if err != nil {
		return nil, types.ProtocolError(types.ErrAPI, ID, "malformed amountOut", err)
	}
	eqFee, _ := decimal.NewFromString(qr.EqFee)
	lpFee, _ := decimal.NewFromString(qr.LpFee)
	protoFee, _ := decimal.NewFromString(qr.ProtocolFee)
	totalFee := eqFee.Add(lpFee).Add(protoFee)

	wait := qr.WaitSeconds
	if wait == 0 {
		wait = estimatedWait
	}

	// Bridges move a canonical asset; the hop into it is a same-chain swap
	// step, the bridge itself is the second step.
	bridgeToken := types.Token{
		Address: qr.BridgeAssetAddr,
		Symbol:  qr.BridgeAsset,
		ChainID: req.FromToken.ChainID,
	}
	route := []types.RouteStep{
		{
			Protocol:       ID,
			FromToken:      req.FromToken,
			ToToken:        bridgeToken,
			PercentOfTotal: decimal.NewFromInt(100),
			PoolAddress:    qr.PoolAddress,
		},
		{
			Protocol:       ID,
			FromToken:      bridgeToken,
			ToToken:        req.ToToken,
			PercentOfTotal: decimal.NewFromInt(100),
		},
	}

	// Bridge price impact is the fee share of the input, not a pool move.
	impact := decimal.Zero
	if req.Amount.IsPositive() {
		impact = totalFee.Div(req.Amount).Mul(decimal.NewFromInt(100))
	}

	return &types.ProtocolQuote{
		Protocol:         ID,
		Kind:             types.KindBridge,
		FromToken:        req.FromToken,
		ToToken:          req.ToToken,
		FromAmount:       req.Amount,
		ToAmount:         toAmount,
		ToAmountMin:      types.MinimumOut(toAmount, req.SlippagePercent),
		PriceImpactPct:   impact,
		GasEstimate:      qr.GasEstimate,
		TotalFee:         totalFee,
		EstimatedTimeSec: wait,
		Route:            route,
		ValidUntil:       time.Now().Add(quoteTTL).UnixMilli(),
		Confidence:       0.9,
	}, nil
}

type swapReq struct {
	SrcChainID  uint64 `json:"srcChainId"`
	DstChainID  uint64 `json:"dstChainId"`
	SrcToken    string `json:"srcToken"`
	DstToken    string `json:"dstToken"`
	Amount      string `json:"amount"`
	MinAmount   string `json:"minAmount"`
	FromAddress string `json:"fromAddress"`
	Deadline    int64  `json:"deadline,omitempty"`
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

	body := swapReq{
		SrcChainID:  quote.FromToken.ChainID,
		DstChainID:  quote.ToToken.ChainID,
		SrcToken:    quote.FromToken.Address,
		DstToken:    quote.ToToken.Address,
		Amount:      quote.FromAmount.String(),
		MinAmount:   quote.ToAmountMin.String(),
		FromAddress: userAddr,
	}
	if !deadline.IsZero() {
		body.Deadline = deadline.Unix()
	}

	var sr swapResp
	if err := a.client.PostJSON(ctx, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/swap", body, &sr); err != nil {
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
		Deadline: body.Deadline,
	}, nil
}
