package types

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_Identity(t *testing.T) {
	a := Token{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", ChainID: 1}
	b := Token{Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", ChainID: 1}
	c := Token{Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", ChainID: 137}

	assert.True(t, a.Same(b), "identity is case-insensitive")
	assert.False(t, a.Same(c), "identity includes chain id")
}

func TestToken_EVMAddress(t *testing.T) {
	evm := Token{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ChainID: 1}
	_, ok := evm.EVMAddress()
	assert.True(t, ok)

	sol := Token{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", ChainID: 900}
	_, ok = sol.EVMAddress()
	assert.False(t, ok)
}

func TestMinimumOut_Exact(t *testing.T) {
	toAmount := decimal.RequireFromString("2510")
	slippage := decimal.RequireFromString("0.5")

	got := MinimumOut(toAmount, slippage)
	assert.True(t, got.Equal(decimal.RequireFromString("2497.45")),
		"2510 * 0.995 must be exactly 2497.45, got %s", got)
}

func TestMinimumOut_ZeroSlippage(t *testing.T) {
	toAmount := decimal.RequireFromString("1234.5678")
	got := MinimumOut(toAmount, decimal.Zero)
	assert.True(t, got.Equal(toAmount))
}

func TestProtocolQuote_Expired(t *testing.T) {
	now := time.Now()
	q := ProtocolQuote{ValidUntil: now.Add(10 * time.Second).UnixMilli()}
	assert.False(t, q.Expired(now))
	assert.True(t, q.Expired(now.Add(11*time.Second)))
}

func TestMaxRisk(t *testing.T) {
	assert.Equal(t, RiskCritical, MaxRisk(RiskLow, RiskCritical))
	assert.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskMedium))
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
}

func TestQuoteError_KindAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ProtocolError(ErrNetwork, "1inch", "transport failure", cause)

	require.True(t, IsKind(err, ErrNetwork))
	assert.Equal(t, ErrNetwork, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "1inch")
}

func TestQuoteError_KindOfUnknown(t *testing.T) {
	assert.Equal(t, ErrAPI, KindOf(errors.New("weird")))
}
