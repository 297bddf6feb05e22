package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

// Scored pairs a quote with its ranking score so callers can show the full
// ranked list, not just the winner.
type Scored struct {
	Quote types.ProtocolQuote `json:"quote"`
	Score float64             `json:"score"`
}

// rank scores and sorts candidates in place, best first. Scoring is a pure
// function of quote content: normalization factors come from the candidate
// set itself, and ties break on protocol id so ranking never depends on
// arrival or map order.
//
// score = wOut*normOutput + wGas*normGasEfficiency + wImpact*normImpactMargin
//
//	+ wConf*confidence
//
// When gas optimization is disabled the gas term is zero without
// renormalizing the others; the rule stays simple and auditable.
func rank(quotes []types.ProtocolQuote, w config.ScoringWeights, maxImpactPct decimal.Decimal, gasOpt bool) []Scored {
	if len(quotes) == 0 {
		return nil
	}

	maxOut := decimal.Zero
	minGas := uint64(0)
	haveGas := false
	for _, q := range quotes {
		if q.ToAmount.GreaterThan(maxOut) {
			maxOut = q.ToAmount
		}
		if q.GasEstimate > 0 && (!haveGas || q.GasEstimate < minGas) {
			minGas = q.GasEstimate
			haveGas = true
		}
	}

	out := make([]Scored, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, Scored{Quote: q, Score: scoreOne(q, w, maxOut, minGas, maxImpactPct, gasOpt)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Quote.Protocol < out[j].Quote.Protocol
	})
	return out
}

func scoreOne(q types.ProtocolQuote, w config.ScoringWeights, maxOut decimal.Decimal, minGas uint64, maxImpactPct decimal.Decimal, gasOpt bool) float64 {
	var normOut float64
	if maxOut.IsPositive() {
		normOut, _ = q.ToAmount.Div(maxOut).Float64()
	}

	var normGas float64
	if gasOpt && q.GasEstimate > 0 && minGas > 0 {
		normGas = float64(minGas) / float64(q.GasEstimate)
	}

	var normImpact float64
	if maxImpactPct.IsPositive() {
		margin := maxImpactPct.Sub(q.PriceImpactPct).Div(maxImpactPct)
		normImpact, _ = margin.Float64()
		if normImpact < 0 {
			normImpact = 0
		}
		if normImpact > 1 {
			normImpact = 1
		}
	}

	return w.Output*normOut + w.Gas*normGas + w.Impact*normImpact + w.Confidence*q.Confidence
}
