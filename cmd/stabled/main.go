package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"stabled/config"
	"stabled/core/events"
	"stabled/core/genesis"
	"stabled/core/state"
	"stabled/native/collateral"
	"stabled/native/oracle"
	"stabled/observability"
	"stabled/observability/logging"
	telemetry "stabled/observability/otel"
	"stabled/rpc"
	"stabled/storage"
)

const (
	otelEndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"
	otelHeadersEnv  = "OTEL_EXPORTER_OTLP_HEADERS"
	otelInsecureEnv = "OTEL_EXPORTER_OTLP_INSECURE"
)

func stringFromEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func boolFromEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func main() {
	var cfgPath string
	var rpcOverride string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to the stabled config file")
	flag.StringVar(&rpcOverride, "rpc", "", "override the RPC listen address")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(rpcOverride) != "" {
		cfg.Node.RPCAddress = rpcOverride
	}

	logger := logging.Setup("stabled", cfg.Node.NetworkName, logging.Options{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelEndpoint := stringFromEnv(otelEndpointEnv, cfg.Telemetry.Endpoint)
	if otelEndpoint != "" {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "stabled",
			Environment: cfg.Node.NetworkName,
			Endpoint:    otelEndpoint,
			Insecure:    boolFromEnv(otelInsecureEnv, cfg.Telemetry.Insecure),
			Headers:     telemetry.ParseHeaders(os.Getenv(otelHeadersEnv)),
		})
		if err != nil {
			logger.Error("initialise telemetry", "err", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "err", err)
			}
		}()
	}

	db, err := openDatabase(cfg.Node.DataDir)
	if err != nil {
		logger.Error("open database", "err", err, "dataDir", cfg.Node.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	bus := events.NewBus()

	manual := oracle.NewManualFeed()
	var httpFeed *oracle.HTTPFeed
	feeds := make(map[string]oracle.PriceFeed, len(cfg.Collateral.Assets))
	switch strings.ToLower(strings.TrimSpace(cfg.Oracle.Mode)) {
	case "http":
		assetIDs := make(map[string]string, len(cfg.Collateral.Assets))
		for _, asset := range cfg.Collateral.Assets {
			if strings.TrimSpace(asset.OracleID) != "" {
				assetIDs[asset.Symbol] = asset.OracleID
			}
		}
		httpFeed = oracle.NewHTTPFeed(nil, oracle.HTTPFeedConfig{
			Endpoint:     cfg.Oracle.Endpoint,
			AssetIDs:     assetIDs,
			Decimals:     cfg.Oracle.FeedDecimals,
			PollInterval: cfg.Oracle.PollInterval(),
		})
		httpFeed.SetEmitter(bus)

		// Manual overrides outrank the poller so an operator can pin a
		// price while the upstream source misbehaves.
		set := oracle.NewFeedSet(cfg.Oracle.MaxQuoteAge())
		set.Register("manual", manual)
		set.Register("http", httpFeed)
		set.SetPriority([]string{"manual", "http"})
		for _, feedID := range cfg.Collateral.Feeds() {
			feeds[feedID] = set
		}
	default:
		for _, feedID := range cfg.Collateral.Feeds() {
			feeds[feedID] = manual
		}
	}

	resolver, err := oracle.NewResolver(cfg.Collateral.Symbols(), cfg.Collateral.Feeds(), feeds, cfg.Oracle.MaxQuoteAge())
	if err != nil {
		logger.Error("build price resolver", "err", err)
		os.Exit(1)
	}

	params := collateral.RiskParameters{
		LiquidationThresholdBps: cfg.Engine.LiquidationThresholdBps,
		LiquidationBonusBps:     cfg.Engine.LiquidationBonusBps,
	}
	if raw := strings.TrimSpace(cfg.Engine.MinHealthFactor); raw != "" {
		minHF, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			logger.Error("parse MinHealthFactor", "value", raw)
			os.Exit(1)
		}
		params.MinHealthFactor = minHF
	}
	engine, err := collateral.NewEngine(manager, resolver, collateral.Config{
		CollateralAssets: cfg.Collateral.Symbols(),
		PriceFeeds:       cfg.Collateral.Feeds(),
		StableSymbol:     cfg.Engine.StableSymbol,
		Params:           params,
	})
	if err != nil {
		logger.Error("build collateral engine", "err", err)
		os.Exit(1)
	}
	engine.SetEmitter(bus)

	applied, err := genesis.Apply(manager, cfg, engine.ModuleAddress())
	if err != nil {
		logger.Error("apply genesis", "err", err)
		os.Exit(1)
	}
	if applied {
		logger.Info("genesis applied",
			"network", cfg.Node.NetworkName,
			"assets", strings.Join(cfg.Collateral.Symbols(), ","),
			"stable", engine.StableSymbol())
	}

	server := rpc.NewServer(engine, manager, resolver, manual, bus, logger, rpc.Config{
		AuthToken:           os.Getenv(cfg.RPC.AuthTokenEnv),
		JWTSecret:           jwtSecret(cfg.RPC.JWTSecretEnv),
		TxRequestsPerMinute: cfg.RPC.TxRequestsPerMinute,
		TxBurst:             cfg.RPC.TxBurst,
	})

	if httpFeed != nil {
		go pollPrices(ctx, httpFeed, resolver, cfg.Oracle.PollInterval(), logger)
	}

	httpServer := &http.Server{
		Addr:              cfg.Node.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("JSON-RPC server listening",
			"addr", cfg.Node.RPCAddress,
			"network", cfg.Node.NetworkName,
			"oracleMode", cfg.Oracle.Mode)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "err", err)
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve RPC", "err", err)
			os.Exit(1)
		}
	}
	logger.Info("stabled stopped")
}

// pollPrices drives the HTTP feed on its interval and records feed health:
// refresh failures per source and the age of every accepted quote.
func pollPrices(ctx context.Context, feed *oracle.HTTPFeed, resolver *oracle.Resolver, interval time.Duration, logger *slog.Logger) {
	metrics := observability.Oracle()
	refresh := func() {
		if err := feed.RefreshOnce(ctx); err != nil {
			metrics.RecordRefreshError("http")
			logger.Warn("price refresh failed", "err", err)
		}
		now := time.Now().UTC()
		for _, asset := range resolver.Assets() {
			quote, err := resolver.LatestPrice(asset)
			if err != nil {
				continue
			}
			metrics.RecordQuote(asset, quote.Source, quote.Timestamp, now)
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// openDatabase selects the backing store: the literal "memory" runs the node
// against an in-memory store for ephemeral networks, anything else opens a
// LevelDB directory.
func openDatabase(dataDir string) (storage.Database, error) {
	if strings.EqualFold(strings.TrimSpace(dataDir), "memory") {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(filepath.Join(dataDir, "state"))
}

func jwtSecret(envName string) []byte {
	if strings.TrimSpace(envName) == "" {
		return nil
	}
	secret := os.Getenv(envName)
	if secret == "" {
		return nil
	}
	return []byte(secret)
}
