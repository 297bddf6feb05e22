package engine

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
)

// Target is the closed set of optimization criteria.
type Target string

const (
	TargetOutput   Target = "output"
	TargetGas      Target = "gas"
	TargetTime     Target = "time"
	TargetSecurity Target = "security"
	TargetBalanced Target = "balanced"
)

// Optimization is the caller's policy: hard constraints first, then the
// sort criterion. Zero-valued constraints are unset.
type Optimization struct {
	Target         Target          `json:"target,omitempty"`
	MaxSlippagePct decimal.Decimal `json:"maxSlippagePct,omitempty"`
	MaxPriceImpact decimal.Decimal `json:"maxPriceImpactPct,omitempty"`
	MaxGasCost     uint64          `json:"maxGasCost,omitempty"`
	MaxTimeSec     int             `json:"maxTimeSec,omitempty"`
}

// optimize filters quotes by the policy's constraints and sorts the
// survivors by its target. When filtering removes every candidate the
// least-bad one is returned with a warning instead of an empty success.
// The aggregators apply the same fallback policy to the impact ceiling, so
// the two layers never disagree about whether a number is shown.
func optimize(quotes []types.UnifiedQuote, opt Optimization, reqSlippagePct decimal.Decimal, w config.ScoringWeights) ([]types.UnifiedQuote, *types.QuoteWarning) {
	kept := make([]types.UnifiedQuote, 0, len(quotes))
	for _, q := range quotes {
		if keep(q, opt, reqSlippagePct) {
			kept = append(kept, q)
		}
	}

	var warn *types.QuoteWarning
	if len(kept) == 0 {
		// All candidates broke a constraint; surface the closest match.
		kept = append(kept, quotes...)
		warn = &types.QuoteWarning{
			Code:     types.WarnImpactFallback,
			Severity: types.RiskHigh,
			Message:  "no route satisfies the optimization constraints; showing closest matches",
		}
	}

	sortByTarget(kept, opt.Target, w)
	return kept, warn
}

func keep(q types.UnifiedQuote, opt Optimization, reqSlippagePct decimal.Decimal) bool {
	// Quotes inherit the request's slippage tolerance, so the slippage
	// constraint binds the whole candidate set at once.
	if opt.MaxSlippagePct.IsPositive() && reqSlippagePct.GreaterThan(opt.MaxSlippagePct) {
		return false
	}
	if opt.MaxPriceImpact.IsPositive() && q.PriceImpactPct.GreaterThan(opt.MaxPriceImpact) {
		return false
	}
	if opt.MaxGasCost > 0 && q.TotalGasEstimate > opt.MaxGasCost {
		return false
	}
	if opt.MaxTimeSec > 0 && q.EstimatedTimeSec > opt.MaxTimeSec {
		return false
	}
	return true
}

func sortByTarget(quotes []types.UnifiedQuote, target Target, w config.ScoringWeights) {
	switch target {
	case TargetGas:
		sort.SliceStable(quotes, func(i, j int) bool {
			if quotes[i].TotalGasEstimate != quotes[j].TotalGasEstimate {
				return quotes[i].TotalGasEstimate < quotes[j].TotalGasEstimate
			}
			return quotes[i].ToAmount.GreaterThan(quotes[j].ToAmount)
		})
	case TargetTime:
		sort.SliceStable(quotes, func(i, j int) bool {
			if quotes[i].EstimatedTimeSec != quotes[j].EstimatedTimeSec {
				return quotes[i].EstimatedTimeSec < quotes[j].EstimatedTimeSec
			}
			return quotes[i].ToAmount.GreaterThan(quotes[j].ToAmount)
		})
	case TargetSecurity:
		sort.SliceStable(quotes, func(i, j int) bool {
			si, sj := securityRank(quotes[i]), securityRank(quotes[j])
			if si != sj {
				return si > sj
			}
			return quotes[i].Confidence > quotes[j].Confidence
		})
	case TargetBalanced:
		scores := balancedScores(quotes, w)
		sort.SliceStable(quotes, func(i, j int) bool {
			if scores[quotes[i].ID] != scores[quotes[j].ID] {
				return scores[quotes[i].ID] > scores[quotes[j].ID]
			}
			return quotes[i].Protocol < quotes[j].Protocol
		})
	default: // TargetOutput and unset
		sort.SliceStable(quotes, func(i, j int) bool {
			if !quotes[i].ToAmount.Equal(quotes[j].ToAmount) {
				return quotes[i].ToAmount.GreaterThan(quotes[j].ToAmount)
			}
			return quotes[i].Protocol < quotes[j].Protocol
		})
	}
}

func securityRank(q types.UnifiedQuote) int {
	rank := 0
	if q.FromToken.Verified {
		rank++
	}
	if q.ToToken.Verified {
		rank++
	}
	if q.RiskAssessment != nil && q.RiskAssessment.Passed {
		rank += 2
	}
	return rank
}

// balancedScores is the aggregator's weighted formula extended with a speed
// term: the configured output/gas/impact/confidence weights plus 1/(1+time).
func balancedScores(quotes []types.UnifiedQuote, w config.ScoringWeights) map[string]float64 {
	maxOut := decimal.Zero
	minGas := uint64(0)
	for _, q := range quotes {
		if q.ToAmount.GreaterThan(maxOut) {
			maxOut = q.ToAmount
		}
		if q.TotalGasEstimate > 0 && (minGas == 0 || q.TotalGasEstimate < minGas) {
			minGas = q.TotalGasEstimate
		}
	}
	out := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		var nOut float64
		if maxOut.IsPositive() {
			nOut, _ = q.ToAmount.Div(maxOut).Float64()
		}
		var nGas float64
		if minGas > 0 && q.TotalGasEstimate > 0 {
			nGas = float64(minGas) / float64(q.TotalGasEstimate)
		}
		nImpact := 1.0
		if imp, _ := q.PriceImpactPct.Float64(); imp > 0 {
			nImpact = 1 / (1 + imp)
		}
		speed := 1.0
		if q.EstimatedTimeSec > 0 {
			speed = 1 / (1 + float64(q.EstimatedTimeSec))
		}
		out[q.ID] = w.Output*nOut + w.Gas*nGas + w.Impact*nImpact + w.Confidence*q.Confidence + speed
	}
	return out
}
