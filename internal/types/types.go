package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RiskLevel classifies a token or a security finding.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for comparisons; unknown levels rank lowest.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool { return r.rank() >= other.rank() }

// MaxRisk returns the more severe of two levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Token is an immutable reference value. Identity is (chainId, address),
// address compared case-insensitively.
type Token struct {
	Address   string    `json:"address"`
	Symbol    string    `json:"symbol"`
	Decimals  int       `json:"decimals"`
	ChainID   uint64    `json:"chainId"`
	Verified  bool      `json:"verified"`
	RiskLevel RiskLevel `json:"riskLevel,omitempty"`
}

// Key returns the canonical identity of the token.
func (t Token) Key() string {
	return fmt.Sprintf("%d:%s", t.ChainID, strings.ToLower(t.Address))
}

// Same reports whether two tokens share identity.
func (t Token) Same(o Token) bool { return t.Key() == o.Key() }

// EVMAddress parses the token address as an EVM address. ok is false for
// non-hex (e.g. Solana) addresses.
func (t Token) EVMAddress() (common.Address, bool) {
	if !common.IsHexAddress(t.Address) {
		return common.Address{}, false
	}
	return common.HexToAddress(t.Address), true
}

// QuoteRequest is one user-initiated quote lookup. Stateless and short-lived.
type QuoteRequest struct {
	FromToken        Token           `json:"fromToken"`
	ToToken          Token           `json:"toToken"`
	Amount           decimal.Decimal `json:"amount"`
	SlippagePercent  decimal.Decimal `json:"slippagePercent"`
	UserAddress      string          `json:"userAddress,omitempty"`
	ChainID          uint64          `json:"chainId"`
	AllowedProtocols []ProtocolID    `json:"allowedProtocols,omitempty"`
}

// CrossChain reports whether the request spans two chains.
func (r QuoteRequest) CrossChain() bool {
	return r.FromToken.ChainID != r.ToToken.ChainID
}

// ProtocolID names one external liquidity or bridge protocol.
type ProtocolID string

// AdapterKind separates same-chain swap protocols from cross-chain bridges.
type AdapterKind string

const (
	KindSwap   AdapterKind = "swap"
	KindBridge AdapterKind = "bridge"
)

// RouteStep is one hop of execution. PercentOfTotal across a route's steps
// at the same hop index sums to 100.
type RouteStep struct {
	Protocol       ProtocolID      `json:"protocol"`
	FromToken      Token           `json:"fromToken"`
	ToToken        Token           `json:"toToken"`
	PercentOfTotal decimal.Decimal `json:"percentOfTotal"`
	PoolAddress    string          `json:"poolAddress,omitempty"`
	FeeBps         uint32          `json:"feeBps,omitempty"`
}

// ProtocolQuote is one adapter's normalized answer.
type ProtocolQuote struct {
	Protocol         ProtocolID      `json:"protocol"`
	Kind             AdapterKind     `json:"kind"`
	FromToken        Token           `json:"fromToken"`
	ToToken          Token           `json:"toToken"`
	FromAmount       decimal.Decimal `json:"fromAmount"`
	ToAmount         decimal.Decimal `json:"toAmount"`
	ToAmountMin      decimal.Decimal `json:"toAmountMin"`
	PriceImpactPct   decimal.Decimal `json:"priceImpactPct"`
	GasEstimate      uint64          `json:"gasEstimate"`
	TotalFee         decimal.Decimal `json:"totalFee"`
	EstimatedTimeSec int             `json:"estimatedTimeSec,omitempty"`
	Route            []RouteStep     `json:"route"`
	ValidUntil       int64           `json:"validUntil"` // epoch ms
	Confidence       float64         `json:"confidence"` // 0..1
}

// Expired reports whether the quote is past its validity window.
func (q ProtocolQuote) Expired(now time.Time) bool {
	return now.UnixMilli() > q.ValidUntil
}

// MinimumOut computes toAmount scaled down by the slippage tolerance:
// toAmount * (1 - slippage/100), exact decimal arithmetic.
func MinimumOut(toAmount, slippagePct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	return toAmount.Mul(one.Sub(slippagePct.Div(hundred)))
}

// QuoteKind tags a UnifiedQuote with its origin aggregator.
type QuoteKind string

const (
	QuoteSwap   QuoteKind = "swap"
	QuoteBridge QuoteKind = "bridge"
)

// WarningCode is a closed set of advisory warning identifiers.
type WarningCode string

const (
	WarnHighSlippage    WarningCode = "high_slippage"
	WarnHighPriceImpact WarningCode = "high_price_impact"
	WarnHighGasCost     WarningCode = "high_gas_cost"
	WarnImpactFallback  WarningCode = "impact_fallback"
	WarnLongBridgeTime  WarningCode = "long_bridge_time"
)

// QuoteWarning is advisory only; it never blocks a quote.
type QuoteWarning struct {
	Code     WarningCode `json:"code"`
	Severity RiskLevel   `json:"severity"`
	Message  string      `json:"message"`
}

// UnifiedQuote is the engine's output shape for both swap and bridge quotes.
type UnifiedQuote struct {
	ID               string          `json:"id"`
	Kind             QuoteKind       `json:"kind"`
	Protocol         ProtocolID      `json:"protocol"`
	FromToken        Token           `json:"fromToken"`
	ToToken          Token           `json:"toToken"`
	FromAmount       decimal.Decimal `json:"fromAmount"`
	ToAmount         decimal.Decimal `json:"toAmount"`
	ToAmountMin      decimal.Decimal `json:"toAmountMin"`
	Route            []RouteStep     `json:"route"`
	TotalGasEstimate uint64          `json:"totalGasEstimate"`
	TotalFee         decimal.Decimal `json:"totalFee"`
	PriceImpactPct   decimal.Decimal `json:"priceImpactPct"`
	EstimatedTimeSec int             `json:"estimatedTimeSec"`
	Confidence       float64         `json:"confidence"`
	ValidUntil       int64           `json:"validUntil"`
	Warnings         []QuoteWarning  `json:"warnings,omitempty"`
	RiskAssessment   *RiskAssessment `json:"riskAssessment,omitempty"`
}

// Expired reports whether downstream code may still use the quote.
func (q UnifiedQuote) Expired(now time.Time) bool {
	return now.UnixMilli() > q.ValidUntil
}

// RiskAssessment summarizes the validator verdict attached to a quote.
type RiskAssessment struct {
	Overall RiskLevel `json:"overall"`
	Passed  bool      `json:"passed"`
	Score   int       `json:"score"` // 0-100, higher is safer
}

// TransactionParams are the parameters of the transaction a quote implies.
// The engine produces parameters only; it never builds or broadcasts the
// transaction itself.
type TransactionParams struct {
	To       string          `json:"to"`
	Data     string          `json:"data"`
	Value    decimal.Decimal `json:"value"`
	GasLimit uint64          `json:"gasLimit"`
	GasPrice decimal.Decimal `json:"gasPrice"` // wei
	ChainID  uint64          `json:"chainId"`
	Deadline int64           `json:"deadline,omitempty"` // epoch seconds
}

// Transaction is the shape the SecurityValidator inspects. It depends only
// on public types so the validator is callable without the engine.
type Transaction struct {
	Params      TransactionParams `json:"params"`
	FromToken   Token             `json:"fromToken"`
	ToToken     Token             `json:"toToken"`
	FromAmount  decimal.Decimal   `json:"fromAmount"`
	ToAmountMin decimal.Decimal   `json:"toAmountMin"`
	SlippagePct decimal.Decimal   `json:"slippagePct"`
	UserAddress string            `json:"userAddress"`
}
