package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"stabled/observability/logging"
	"stabled/services/indexer/ingest"
	"stabled/services/indexer/recon"
)

// Config is the indexer daemon configuration.
type Config struct {
	// NodeWSURL is the stabled websocket endpoint.
	NodeWSURL string `yaml:"node_ws_url"`
	// DatabaseDSN selects sqlite (path or file: DSN) or postgres (URL).
	DatabaseDSN string `yaml:"database_dsn"`
	// ExportDir receives the parquet audit files.
	ExportDir string `yaml:"export_dir"`
	// ReconcileIntervalMinutes is the reconciliation cadence.
	ReconcileIntervalMinutes int `yaml:"reconcile_interval_minutes"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		NodeWSURL:                "ws://localhost:8545/ws",
		DatabaseDSN:              "indexer.db",
		ExportDir:                "indexer-exports",
		ReconcileIntervalMinutes: 15,
		LogLevel:                 "info",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if strings.TrimSpace(cfg.NodeWSURL) == "" {
		return Config{}, fmt.Errorf("node_ws_url required")
	}
	if cfg.ReconcileIntervalMinutes <= 0 {
		cfg.ReconcileIntervalMinutes = 15
	}
	return cfg, nil
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/indexer/config.yaml", "path to stable-indexerd config")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("stable-indexerd", "", logging.Options{Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := ingest.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Error("open database", "err", err, "dsn", cfg.DatabaseDSN)
		os.Exit(1)
	}

	store := ingest.NewStore(db, logger)
	runner := ingest.NewRunner(store, cfg.NodeWSURL, logger)
	reconciler := recon.New(db, cfg.ExportDir, logger)

	go func() {
		interval := time.Duration(cfg.ReconcileIntervalMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("reconciliation failed", "err", err)
				}
			}
		}
	}()

	logger.Info("stable-indexerd starting", "ws", cfg.NodeWSURL, "db", cfg.DatabaseDSN)
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("ingest stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("stable-indexerd stopped")
}
