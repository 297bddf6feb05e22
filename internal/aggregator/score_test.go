package aggregator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

var testWeights = config.ScoringWeights{Output: 0.4, Gas: 0.2, Impact: 0.2, Confidence: 0.2}

func TestRank_Deterministic(t *testing.T) {
	quotes := []types.ProtocolQuote{
		*swapQuote("paraswap", "2500", "0.3", 200000, 0.85),
		*swapQuote("1inch", "2510", "0.1", 180000, 0.9),
		*swapQuote("zerox", "2495", "0.2", 150000, 0.8),
	}
	ceiling := decimal.NewFromInt(15)

	first := rank(append([]types.ProtocolQuote(nil), quotes...), testWeights, ceiling, true)
	second := rank([]types.ProtocolQuote{quotes[2], quotes[0], quotes[1]}, testWeights, ceiling, true)

	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, first[i].Quote.Protocol, second[i].Quote.Protocol,
			"ranking must not depend on input order")
		assert.InDelta(t, first[i].Score, second[i].Score, 1e-12)
	}
	// zerox trades a little output for the cheapest gas, which wins under the
	// default weights with gas optimization on.
	assert.Equal(t, types.ProtocolID("zerox"), first[0].Quote.Protocol)
}

func TestRank_TieBreakOnProtocolID(t *testing.T) {
	a := *swapQuote("bbb", "2500", "0.1", 180000, 0.9)
	b := *swapQuote("aaa", "2500", "0.1", 180000, 0.9)

	out := rank([]types.ProtocolQuote{a, b}, testWeights, decimal.NewFromInt(15), true)
	require.Len(t, out, 2)
	assert.Equal(t, types.ProtocolID("aaa"), out[0].Quote.Protocol)
}

func TestRank_GasTermZeroWhenOptimizationOff(t *testing.T) {
	cheapGas := *swapQuote("1inch", "2500", "0.1", 100000, 0.9)
	dearGas := *swapQuote("paraswap", "2500", "0.1", 400000, 0.9)

	withGas := rank([]types.ProtocolQuote{cheapGas, dearGas}, testWeights, decimal.NewFromInt(15), true)
	assert.Greater(t, withGas[0].Score, withGas[1].Score)
	assert.Equal(t, types.ProtocolID("1inch"), withGas[0].Quote.Protocol)

	withoutGas := rank([]types.ProtocolQuote{cheapGas, dearGas}, testWeights, decimal.NewFromInt(15), false)
	assert.InDelta(t, withoutGas[0].Score, withoutGas[1].Score, 1e-12,
		"gas must not influence the score when disabled")
}

func TestRank_OutputDominatesWithDefaultWeights(t *testing.T) {
	// Better output, slightly worse confidence. A 2.4% output edge outweighs
	// a 0.01 confidence edge under the default 0.4/0.2 weights.
	better := *swapQuote("1inch", "2510", "0.1", 200000, 0.89)
	worse := *swapQuote("paraswap", "2450", "0.1", 190000, 0.9)

	out := rank([]types.ProtocolQuote{worse, better}, testWeights, decimal.NewFromInt(15), false)
	assert.Equal(t, types.ProtocolID("1inch"), out[0].Quote.Protocol)
}

func TestScoreOne_ImpactMarginClamped(t *testing.T) {
	over := *swapQuote("1inch", "2500", "30", 180000, 0.9)
	s := scoreOne(over, testWeights, decimal.RequireFromString("2500"), 180000, decimal.NewFromInt(15), true)
	// normOut=1, normGas=1, normImpact clamps to 0, confidence 0.9.
	assert.InDelta(t, 0.4+0.2+0+0.2*0.9, s, 1e-9)
}

func TestRank_EmptyInput(t *testing.T) {
	assert.Nil(t, rank(nil, testWeights, decimal.NewFromInt(15), true))
}
