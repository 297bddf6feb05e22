package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter/meson"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter/oneinch"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter/paraswap"
	"github.com/toary310/crosschain-dex-sub001/internal/adapter/stargate"
	"github.com/toary310/crosschain-dex-sub001/internal/aggregator"
	"github.com/toary310/crosschain-dex-sub001/internal/cache"
	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/engine"
	"github.com/toary310/crosschain-dex-sub001/internal/logging"
	"github.com/toary310/crosschain-dex-sub001/internal/marketfeed"
	"github.com/toary310/crosschain-dex-sub001/internal/metrics"
	"github.com/toary310/crosschain-dex-sub001/internal/security"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("received signal, shutting down...")
		cancel()
	}()

	metrics.Serve(ctx, cfg.Server.MetricsAddr, nil, logger)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	reg := buildRegistry(cfg, logger)
	opts := aggregator.OptionsFromConfig(cfg)

	dexCache := buildCache("dex", cfg, rdb, logger)
	bridgeCache := buildCache("bridge", cfg, rdb, logger)
	dex := aggregator.NewDex(reg, dexCache, opts, logger)
	bridge := aggregator.NewBridge(reg, bridgeCache, opts, logger)

	feed := marketfeed.New(logger)
	switch {
	case cfg.MarketFeed.WsURL != "":
		go feed.RunWS(ctx, cfg.MarketFeed.WsURL)
	case cfg.MarketFeed.Channel != "" && rdb != nil:
		go feed.RunRedis(ctx, rdb, cfg.MarketFeed.Channel)
	default:
		logger.Info("market feed disabled; gas-cost warnings and mev size checks degrade")
	}

	validator := security.New(cfg, buildContractSource(cfg, logger), buildTokenRiskSource(cfg, logger), feed, logger)
	eng := engine.New(dex, bridge, validator, feed, cfg.Scoring, cfg.CacheTTL(), logger)

	srv := newServer(eng, validator, reg, logger)
	srv.run(ctx, cfg.Server.ListenAddr)

	<-ctx.Done()
	logger.Info("quoted finished")
}

func buildRegistry(cfg *config.Config, logger *zap.Logger) *adapter.Registry {
	var adapters []adapter.ProtocolAdapter
	for _, ac := range cfg.Adapters {
		switch ac.Protocol {
		case oneinch.ID:
			adapters = append(adapters, oneinch.New(ac, nil, logger))
		case paraswap.ID:
			adapters = append(adapters, paraswap.New(ac, nil, logger))
		case stargate.ID:
			adapters = append(adapters, stargate.New(ac, nil, logger))
		case meson.ID:
			adapters = append(adapters, meson.New(ac, logger))
		default:
			logger.Warn("unknown protocol in config, skipping", zap.String("protocol", string(ac.Protocol)))
		}
	}
	if len(adapters) == 0 {
		logger.Fatal("no protocol adapters configured")
	}
	logger.Info("adapters registered", zap.Int("count", len(adapters)))
	return adapter.NewRegistry(adapters...)
}

func buildCache(name string, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) cache.Cache {
	if rdb != nil {
		logger.Info("using redis quote cache", zap.String("cache", name))
		return cache.NewRedis(name, rdb, logger)
	}
	mem := cache.NewMemory(name)
	go mem.Sweep(context.Background(), time.Minute)
	return mem
}

func buildContractSource(cfg *config.Config, logger *zap.Logger) security.ContractSource {
	if cfg.Security.ContractAPIURL == "" {
		return nil
	}
	return security.NewHTTPContractSource(config.AdapterCfg{
		Protocol:      "contract-api",
		BaseURL:       cfg.Security.ContractAPIURL,
		RateLimit:     20,
		RetryAttempts: 2,
		RetryBaseMs:   200,
		TimeoutMs:     5000,
	}, logger)
}

func buildTokenRiskSource(cfg *config.Config, logger *zap.Logger) security.TokenRiskSource {
	if cfg.Security.TokenRiskAPIURL == "" {
		return nil
	}
	return security.NewHTTPTokenRiskSource(config.AdapterCfg{
		Protocol:      "token-risk-api",
		BaseURL:       cfg.Security.TokenRiskAPIURL,
		RateLimit:     20,
		RetryAttempts: 2,
		RetryBaseMs:   200,
		TimeoutMs:     5000,
	}, logger)
}
