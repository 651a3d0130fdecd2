package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file written: %v", err)
	}
	if cfg.Node.RPCAddress != ":8545" {
		t.Fatalf("unexpected default RPC address %q", cfg.Node.RPCAddress)
	}
	if got := cfg.Collateral.Symbols(); len(got) != 2 || got[0] != "WETH" || got[1] != "WBTC" {
		t.Fatalf("unexpected default collateral set %v", got)
	}
	if cfg.Oracle.Mode != "manual" {
		t.Fatalf("unexpected default oracle mode %q", cfg.Oracle.Mode)
	}
}

func TestLoadParsesFileAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[node]
RPCAddress = ":9999"
NetworkName = "stable-test"

[engine]
LiquidationThresholdBps = 6000
LiquidationBonusBps = 500

[[collateral.asset]]
Symbol = "WETH"
Feed = "ETH-USD"
Decimals = 18

[oracle]
Mode = "http"
Endpoint = "https://prices.example/api"
PollIntervalSeconds = 5
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.RPCAddress != ":9999" {
		t.Fatalf("expected explicit RPC address, got %q", cfg.Node.RPCAddress)
	}
	if cfg.Engine.LiquidationThresholdBps != 6000 {
		t.Fatalf("expected threshold 6000, got %d", cfg.Engine.LiquidationThresholdBps)
	}
	// Omitted fields fall back to defaults.
	if cfg.Engine.StableSymbol != "DSC" {
		t.Fatalf("expected default stable symbol, got %q", cfg.Engine.StableSymbol)
	}
	if cfg.Node.DataDir != "./stable-data" {
		t.Fatalf("expected default data dir, got %q", cfg.Node.DataDir)
	}
	if cfg.Oracle.FeedDecimals != 8 {
		t.Fatalf("expected default feed decimals, got %d", cfg.Oracle.FeedDecimals)
	}
	if cfg.Oracle.PollInterval() != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %s", cfg.Oracle.PollInterval())
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[[collateral.asset]]
Symbol = "WETH"
Feed = "ETH-USD"

[[collateral.asset]]
Symbol = "weth"
Feed = "ETH-USD"
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate symbol error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name: "no collateral",
			mutate: func(c *Config) {
				c.Collateral.Assets = nil
			},
			wantErr: "at least one collateral asset",
		},
		{
			name: "missing feed",
			mutate: func(c *Config) {
				c.Collateral.Assets[0].Feed = ""
			},
			wantErr: "missing feed",
		},
		{
			name: "decimals above 18",
			mutate: func(c *Config) {
				c.Collateral.Assets[0].Decimals = 19
			},
			wantErr: "decimals must be <= 18",
		},
		{
			name: "stable symbol as collateral",
			mutate: func(c *Config) {
				c.Collateral.Assets[0].Symbol = "DSC"
			},
			wantErr: "cannot be collateral",
		},
		{
			name: "threshold above 10000 bps",
			mutate: func(c *Config) {
				c.Engine.LiquidationThresholdBps = 10_001
			},
			wantErr: "threshold above 10000",
		},
		{
			name: "unknown oracle mode",
			mutate: func(c *Config) {
				c.Oracle.Mode = "chainlink"
			},
			wantErr: "oracle mode must be manual or http",
		},
		{
			name: "genesis balance missing amount",
			mutate: func(c *Config) {
				c.Genesis.Balances = []GenesisBalance{{Address: "stb1qtest", Symbol: "WETH"}}
			},
			wantErr: "missing amount",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOracleDurations(t *testing.T) {
	var o OracleConfig
	if o.PollInterval() != 30*time.Second {
		t.Fatalf("expected default 30s poll interval, got %s", o.PollInterval())
	}
	if o.MaxQuoteAge() != 0 {
		t.Fatalf("expected zero max age when unset, got %s", o.MaxQuoteAge())
	}
	o.MaxQuoteAgeSeconds = 120
	if o.MaxQuoteAge() != 2*time.Minute {
		t.Fatalf("expected 2m max age, got %s", o.MaxQuoteAge())
	}
}
