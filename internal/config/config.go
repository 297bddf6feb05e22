package config

import (
	"fmt"
	"os"
	"time"

	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"gopkg.in/yaml.v3"
)

// Mode selects how aggregators query adapters.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// AdapterCfg configures one protocol adapter.
type AdapterCfg struct {
	Protocol  types.ProtocolID `yaml:"protocol"`
	BaseURL   string           `yaml:"base_url"`
	APIKey    string           `yaml:"api_key"`
	APIKeyEnv string           `yaml:"api_key_env"`

	// Sliding-window rate limit: requests per window.
	RateLimit  int `yaml:"rate_limit"`
	RateWindow int `yaml:"rate_window_ms"`

	RetryAttempts int `yaml:"retry_attempts"`
	RetryBaseMs   int `yaml:"retry_base_ms"`
	TimeoutMs     int `yaml:"timeout_ms"`
}

// ScoringWeights are the quote-ranking weights. They are heuristics carried
// as configuration, not literals, so they can be tuned without a rebuild.
type ScoringWeights struct {
	Output     float64 `yaml:"output"`
	Gas        float64 `yaml:"gas"`
	Impact     float64 `yaml:"impact"`
	Confidence float64 `yaml:"confidence"`
}

type Config struct {
	Mode     Mode   `yaml:"mode"`
	LogLevel string `yaml:"log_level"`

	Server struct {
		ListenAddr  string `yaml:"listen_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`

	Adapters []AdapterCfg `yaml:"adapters"`

	Aggregator struct {
		DeadlineMs        int     `yaml:"deadline_ms"`
		CacheTTLMs        int     `yaml:"cache_ttl_ms"`
		MaxPriceImpactPct float64 `yaml:"max_price_impact_pct"`
		GasOptimization   bool    `yaml:"gas_optimization"`
	} `yaml:"aggregator"`

	Scoring ScoringWeights `yaml:"scoring"`

	Security struct {
		StrictMode        bool     `yaml:"strict_mode"`
		MEVProtection     bool     `yaml:"mev_protection"`
		MaxSlippagePct    float64  `yaml:"max_slippage_pct"`
		MEVAmountUSD      float64  `yaml:"mev_amount_usd"`
		MEVSlippagePct    float64  `yaml:"mev_slippage_pct"`
		MaxGasLimit       uint64   `yaml:"max_gas_limit"`
		MaxGasPriceGwei   float64  `yaml:"max_gas_price_gwei"`
		BlacklistedAddrs  []string `yaml:"blacklisted_addrs"`
		MinDeadlineSec    int      `yaml:"min_deadline_sec"`
		MaxDeadlineSec    int      `yaml:"max_deadline_sec"`
		ContractAPIURL    string   `yaml:"contract_api_url"`
		TokenRiskAPIURL   string   `yaml:"token_risk_api_url"`
		LookupCacheTTLMin int      `yaml:"lookup_cache_ttl_min"`
	} `yaml:"security"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	MarketFeed struct {
		WsURL   string `yaml:"ws_url"`
		Channel string `yaml:"channel"` // redis pub/sub alternative
	} `yaml:"market_feed"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns a config with every default applied and no adapters.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeParallel
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Aggregator.DeadlineMs == 0 {
		c.Aggregator.DeadlineMs = 10_000
	}
	if c.Aggregator.CacheTTLMs == 0 {
		c.Aggregator.CacheTTLMs = 30_000
	}
	if c.Aggregator.MaxPriceImpactPct == 0 {
		c.Aggregator.MaxPriceImpactPct = 15.0
	}
	if c.Scoring == (ScoringWeights{}) {
		c.Scoring = ScoringWeights{Output: 0.4, Gas: 0.2, Impact: 0.2, Confidence: 0.2}
	}
	if c.Security.MaxSlippagePct == 0 {
		c.Security.MaxSlippagePct = 50.0
	}
	if c.Security.MEVAmountUSD == 0 {
		c.Security.MEVAmountUSD = 100_000
	}
	if c.Security.MEVSlippagePct == 0 {
		c.Security.MEVSlippagePct = 3.0
	}
	if c.Security.MaxGasLimit == 0 {
		c.Security.MaxGasLimit = 1_500_000
	}
	if c.Security.MaxGasPriceGwei == 0 {
		c.Security.MaxGasPriceGwei = 500
	}
	if c.Security.MinDeadlineSec == 0 {
		c.Security.MinDeadlineSec = 60
	}
	if c.Security.MaxDeadlineSec == 0 {
		c.Security.MaxDeadlineSec = 3600
	}
	if c.Security.LookupCacheTTLMin == 0 {
		c.Security.LookupCacheTTLMin = 30
	}
	for i := range c.Adapters {
		a := &c.Adapters[i]
		if a.RateLimit == 0 {
			a.RateLimit = 10
		}
		if a.RateWindow == 0 {
			a.RateWindow = 1000
		}
		if a.RetryAttempts == 0 {
			a.RetryAttempts = 3
		}
		if a.RetryBaseMs == 0 {
			a.RetryBaseMs = 200
		}
		if a.TimeoutMs == 0 {
			a.TimeoutMs = 10_000
		}
		if a.APIKey == "" && a.APIKeyEnv != "" {
			a.APIKey = os.Getenv(a.APIKeyEnv)
		}
	}
}

func (c *Config) validate() error {
	if c.Mode != ModeParallel && c.Mode != ModeSequential {
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	for _, a := range c.Adapters {
		if a.Protocol == "" {
			return fmt.Errorf("config: adapter with empty protocol id")
		}
		if a.BaseURL == "" {
			return fmt.Errorf("config: adapter %s: base_url required", a.Protocol)
		}
	}
	return nil
}

func (c *Config) AggregateDeadline() time.Duration {
	return time.Duration(c.Aggregator.DeadlineMs) * time.Millisecond
}
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Aggregator.CacheTTLMs) * time.Millisecond
}
func (a AdapterCfg) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}
func (a AdapterCfg) RetryBase() time.Duration {
	return time.Duration(a.RetryBaseMs) * time.Millisecond
}
func (a AdapterCfg) Window() time.Duration {
	return time.Duration(a.RateWindow) * time.Millisecond
}
