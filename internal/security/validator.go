// Package security is the independent gate run against a candidate
// transaction before it is handed back for signing. It depends only on the
// public Transaction/Token shapes, never on engine internals.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/marketfeed"
	"github.com/toary310/crosschain-dex-sub001/internal/metrics"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
)

// CheckType names one check of the pipeline.
type CheckType string

const (
	CheckContractVerification CheckType = "contract_verification"
	CheckTokenRisk            CheckType = "token_risk"
	CheckAmount               CheckType = "amount"
	CheckSlippage             CheckType = "slippage"
	CheckGas                  CheckType = "gas"
	CheckMEV                  CheckType = "mev"
	CheckDeadline             CheckType = "deadline"
	CheckBlacklist            CheckType = "blacklist"
)

// Finding is one check's outcome. Findings are additive: no finding is ever
// discarded, so callers can render the complete risk picture.
type Finding struct {
	CheckType      CheckType       `json:"checkType"`
	Passed         bool            `json:"passed"`
	RiskLevel      types.RiskLevel `json:"riskLevel"`
	Message        string          `json:"message"`
	Recommendation string          `json:"recommendation,omitempty"`
}

// Result is the aggregate verdict. Passed is false iff a critical finding
// exists, or a high finding exists in strict mode.
type Result struct {
	Overall         types.RiskLevel `json:"overall"`
	Passed          bool            `json:"passed"`
	Score           int             `json:"score"` // 0-100, higher is safer
	Checks          []Finding       `json:"checks"`
	Warnings        []string        `json:"warnings,omitempty"`
	Blockers        []string        `json:"blockers,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// BlockedError converts a failing verdict into the typed error callers
// surface across the boundary. Passing results return nil.
func (r Result) BlockedError() *types.QuoteError {
	if r.Passed {
		return nil
	}
	msg := "transaction blocked by security validation"
	if len(r.Blockers) > 0 {
		msg = r.Blockers[0]
	}
	return types.NewError(types.ErrSecurityBlocked, "%s", msg)
}

// Validator runs the check pipeline. Construct one per process; the lookup
// caches are shared across requests.
type Validator struct {
	cfg       *config.Config
	contracts ContractSource
	tokens    TokenRiskSource
	market    *marketfeed.Feed
	blacklist map[common.Address]bool
	log       *zap.Logger

	contractCache *lookupCache[bool]
	tokenCache    *lookupCache[TokenRisk]
}

// New builds a Validator. contracts, tokens and market may be nil: the
// corresponding checks then degrade to pass-with-unknown rather than fail.
func New(cfg *config.Config, contracts ContractSource, tokens TokenRiskSource, market *marketfeed.Feed, log *zap.Logger) *Validator {
	bl := make(map[common.Address]bool, len(cfg.Security.BlacklistedAddrs))
	for _, a := range cfg.Security.BlacklistedAddrs {
		if common.IsHexAddress(a) {
			bl[common.HexToAddress(a)] = true
		}
	}
	ttl := time.Duration(cfg.Security.LookupCacheTTLMin) * time.Minute
	return &Validator{
		cfg:           cfg,
		contracts:     contracts,
		tokens:        tokens,
		market:        market,
		blacklist:     bl,
		log:           log,
		contractCache: newLookupCache[bool](ttl),
		tokenCache:    newLookupCache[TokenRisk](ttl),
	}
}

// ValidateTransaction runs every check and aggregates the verdict.
func (v *Validator) ValidateTransaction(ctx context.Context, tx types.Transaction) *Result {
	findings := []Finding{
		v.checkBlacklist(tx),
		v.checkContract(ctx, tx),
	}
	findings = append(findings, v.checkTokens(ctx, tx)...)
	findings = append(findings,
		v.checkAmount(tx),
		v.checkSlippage(tx),
		v.checkGas(tx),
		v.checkMEV(tx),
		v.checkDeadline(tx),
	)
	res := v.aggregate(findings)
	if !res.Passed {
		metrics.SecurityBlocks.Inc()
		v.log.Warn("transaction blocked",
			zap.String("overall", string(res.Overall)),
			zap.Int("score", res.Score),
			zap.Strings("blockers", res.Blockers),
		)
	}
	return res
}

func (v *Validator) aggregate(findings []Finding) *Result {
	res := &Result{Overall: types.RiskLow, Score: 100, Checks: findings}
	for _, f := range findings {
		if f.Recommendation != "" {
			res.Recommendations = append(res.Recommendations, f.Recommendation)
		}
		if f.Passed {
			continue
		}
		res.Overall = types.MaxRisk(res.Overall, f.RiskLevel)
		switch f.RiskLevel {
		case types.RiskCritical:
			res.Score -= 40
			res.Blockers = append(res.Blockers, f.Message)
		case types.RiskHigh:
			res.Score -= 20
			if v.cfg.Security.StrictMode {
				res.Blockers = append(res.Blockers, f.Message)
			} else {
				res.Warnings = append(res.Warnings, f.Message)
			}
		case types.RiskMedium:
			res.Score -= 10
			res.Warnings = append(res.Warnings, f.Message)
		default:
			res.Score -= 5
			res.Warnings = append(res.Warnings, f.Message)
		}
	}
	if res.Score < 0 {
		res.Score = 0
	}
	res.Passed = len(res.Blockers) == 0
	return res
}

func pass(ct CheckType, msg string) Finding {
	return Finding{CheckType: ct, Passed: true, RiskLevel: types.RiskLow, Message: msg}
}

func fail(ct CheckType, level types.RiskLevel, msg, rec string) Finding {
	return Finding{CheckType: ct, Passed: false, RiskLevel: level, Message: msg, Recommendation: rec}
}

// checkBlacklist matches every address the transaction touches against the
// configured blacklist. A hit is critical and non-overridable regardless of
// price.
func (v *Validator) checkBlacklist(tx types.Transaction) Finding {
	for _, raw := range []string{tx.Params.To, tx.UserAddress, tx.FromToken.Address, tx.ToToken.Address} {
		if !common.IsHexAddress(raw) {
			continue
		}
		if v.blacklist[common.HexToAddress(raw)] {
			return fail(CheckBlacklist, types.RiskCritical,
				fmt.Sprintf("address %s is blacklisted", raw),
				"do not interact with this address")
		}
	}
	return pass(CheckBlacklist, "no blacklisted addresses")
}

func (v *Validator) checkContract(ctx context.Context, tx types.Transaction) Finding {
	if v.contracts == nil {
		return pass(CheckContractVerification, "verification source not configured")
	}
	if tx.Params.To == "" {
		// Pre-build candidates have no target contract yet.
		return pass(CheckContractVerification, "no target contract to verify")
	}
	key := fmt.Sprintf("%d:%s", tx.Params.ChainID, strings.ToLower(tx.Params.To))
	verified, ok := v.contractCache.get(key)
	if !ok {
		var err error
		verified, err = v.contracts.Verified(ctx, tx.Params.ChainID, tx.Params.To)
		if err != nil {
			v.log.Debug("contract verification lookup failed", zap.Error(err))
			return fail(CheckContractVerification, types.RiskMedium,
				fmt.Sprintf("could not verify contract %s", tx.Params.To),
				"retry or verify the contract manually")
		}
		v.contractCache.put(key, verified)
	}
	if !verified {
		return fail(CheckContractVerification, types.RiskHigh,
			fmt.Sprintf("contract %s has unverified source", tx.Params.To),
			"prefer routes through verified contracts")
	}
	return pass(CheckContractVerification, "target contract source is verified")
}

func (v *Validator) checkTokens(ctx context.Context, tx types.Transaction) []Finding {
	if v.tokens == nil {
		return []Finding{pass(CheckTokenRisk, "token risk source not configured")}
	}
	out := make([]Finding, 0, 2)
	for _, tok := range []types.Token{tx.FromToken, tx.ToToken} {
		risk, ok := v.tokenCache.get(tok.Key())
		if !ok {
			var err error
			risk, err = v.tokens.Assess(ctx, tok)
			if err != nil {
				v.log.Debug("token risk lookup failed", zap.String("token", tok.Symbol), zap.Error(err))
				out = append(out, fail(CheckTokenRisk, types.RiskMedium,
					fmt.Sprintf("no risk data for token %s", tok.Symbol), ""))
				continue
			}
			v.tokenCache.put(tok.Key(), risk)
		}
		switch {
		case risk.Honeypot:
			out = append(out, fail(CheckTokenRisk, types.RiskCritical,
				fmt.Sprintf("token %s is flagged as a honeypot", tok.Symbol),
				"do not buy this token"))
		case risk.Blacklisted:
			out = append(out, fail(CheckTokenRisk, types.RiskCritical,
				fmt.Sprintf("token %s is blacklisted", tok.Symbol), ""))
		case risk.TransferTax > 10:
			out = append(out, fail(CheckTokenRisk, types.RiskHigh,
				fmt.Sprintf("token %s charges a %.1f%% transfer tax", tok.Symbol, risk.TransferTax),
				"account for the tax in the expected output"))
		default:
			out = append(out, pass(CheckTokenRisk, fmt.Sprintf("token %s has no risk flags", tok.Symbol)))
		}
	}
	return out
}

func (v *Validator) checkAmount(tx types.Transaction) Finding {
	if !tx.FromAmount.IsPositive() {
		return fail(CheckAmount, types.RiskCritical, "transaction amount is not positive", "")
	}
	if tx.ToAmountMin.IsNegative() {
		return fail(CheckAmount, types.RiskCritical, "minimum output is negative", "")
	}
	return pass(CheckAmount, "amounts are sane")
}

func (v *Validator) checkSlippage(tx types.Transaction) Finding {
	maxSlip := decimal.NewFromFloat(v.cfg.Security.MaxSlippagePct)
	if tx.SlippagePct.GreaterThan(maxSlip) {
		return fail(CheckSlippage, types.RiskHigh,
			fmt.Sprintf("slippage %s%% exceeds the %s%% ceiling", tx.SlippagePct, maxSlip),
			"lower the slippage tolerance")
	}
	return pass(CheckSlippage, "slippage within ceiling")
}

func (v *Validator) checkGas(tx types.Transaction) Finding {
	if tx.Params.GasLimit > v.cfg.Security.MaxGasLimit {
		return fail(CheckGas, types.RiskMedium,
			fmt.Sprintf("gas limit %d above sanity bound %d", tx.Params.GasLimit, v.cfg.Security.MaxGasLimit),
			"inspect the transaction before signing")
	}
	maxWei := decimal.NewFromFloat(v.cfg.Security.MaxGasPriceGwei).Mul(decimal.NewFromInt(1_000_000_000))
	if tx.Params.GasPrice.GreaterThan(maxWei) {
		return fail(CheckGas, types.RiskMedium,
			fmt.Sprintf("gas price above %.0f gwei", v.cfg.Security.MaxGasPriceGwei),
			"wait for lower gas prices")
	}
	if v.market != nil {
		if mc := v.market.Current(); mc.Known() && mc.GasPriceWei.IsPositive() {
			if tx.Params.GasPrice.GreaterThan(mc.GasPriceWei.Mul(decimal.NewFromInt(3))) {
				return fail(CheckGas, types.RiskMedium,
					"gas price is more than 3x the prevailing market price",
					"re-check the quoted gas price")
			}
		}
	}
	return pass(CheckGas, "gas parameters are sane")
}

// checkMEV flags sandwich-attack exposure: a large trade or a loose slippage
// tolerance leaves extractable room around the user's transaction.
func (v *Validator) checkMEV(tx types.Transaction) Finding {
	if !v.cfg.Security.MEVProtection {
		return pass(CheckMEV, "mev protection disabled")
	}
	if tx.SlippagePct.GreaterThan(decimal.NewFromFloat(v.cfg.Security.MEVSlippagePct)) {
		return fail(CheckMEV, types.RiskHigh,
			fmt.Sprintf("slippage %s%% leaves room for sandwich attacks", tx.SlippagePct),
			"tighten slippage or use a private mempool")
	}
	if v.market != nil {
		if usd := v.amountUSD(tx); usd >= v.cfg.Security.MEVAmountUSD {
			return fail(CheckMEV, types.RiskHigh,
				fmt.Sprintf("trade size ~$%.0f is attractive to MEV searchers", usd),
				"split the trade or use a private mempool")
		}
	}
	return pass(CheckMEV, "no obvious mev exposure")
}

// nativeSymbols are gas-asset symbols whose USD value the market feed can
// price directly. Other tokens skip the size leg of the MEV heuristic.
var nativeSymbols = map[string]bool{
	"ETH": true, "WETH": true, "BNB": true, "WBNB": true,
	"MATIC": true, "WMATIC": true, "AVAX": true, "WAVAX": true,
}

func (v *Validator) amountUSD(tx types.Transaction) float64 {
	mc := v.market.Current()
	if !mc.Known() || !nativeSymbols[strings.ToUpper(tx.FromToken.Symbol)] {
		return 0
	}
	scale := decimal.New(1, int32(tx.FromToken.Decimals))
	usd, _ := tx.FromAmount.Div(scale).Mul(mc.NativeUSD).Float64()
	return usd
}

func (v *Validator) checkDeadline(tx types.Transaction) Finding {
	if tx.Params.Deadline == 0 {
		return pass(CheckDeadline, "no deadline set")
	}
	window := time.Until(time.Unix(tx.Params.Deadline, 0))
	minW := time.Duration(v.cfg.Security.MinDeadlineSec) * time.Second
	maxW := time.Duration(v.cfg.Security.MaxDeadlineSec) * time.Second
	switch {
	case window < minW:
		return fail(CheckDeadline, types.RiskHigh,
			fmt.Sprintf("deadline window %s is shorter than %s", window.Round(time.Second), minW),
			"extend the deadline")
	case window > maxW:
		return fail(CheckDeadline, types.RiskMedium,
			fmt.Sprintf("deadline window %s is longer than %s", window.Round(time.Second), maxW),
			"shorten the deadline")
	}
	return pass(CheckDeadline, "deadline window is sane")
}
