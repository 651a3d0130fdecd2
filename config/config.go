package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration loaded from TOML. Zero values fall back to
// the defaults applied in Load.
type Config struct {
	Node       NodeConfig       `toml:"node"`
	Engine     EngineConfig     `toml:"engine"`
	Collateral CollateralConfig `toml:"collateral"`
	Oracle     OracleConfig     `toml:"oracle"`
	RPC        RPCConfig        `toml:"rpc"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Logging    LoggingConfig    `toml:"logging"`
	Genesis    GenesisConfig    `toml:"genesis"`
}

// NodeConfig holds the process-level settings.
type NodeConfig struct {
	// RPCAddress is the listen address of the JSON-RPC server.
	RPCAddress string `toml:"RPCAddress"`
	// DataDir is the LevelDB directory. The literal "memory" selects the
	// in-memory store for ephemeral runs.
	DataDir string `toml:"DataDir"`
	// NetworkName tags log lines and telemetry.
	NetworkName string `toml:"NetworkName"`
}

// EngineConfig holds the solvency risk parameters.
type EngineConfig struct {
	// LiquidationThresholdBps discounts collateral value in basis points.
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	// LiquidationBonusBps is the liquidator premium in basis points.
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`
	// MinHealthFactor is the 18-decimal solvency floor as a decimal string.
	// Empty selects 1e18.
	MinHealthFactor string `toml:"MinHealthFactor"`
	// StableSymbol is the debt token symbol. Empty selects DSC.
	StableSymbol string `toml:"StableSymbol"`
}

// CollateralAsset pairs one approved collateral symbol with its price feed.
type CollateralAsset struct {
	Symbol   string `toml:"Symbol"`
	Feed     string `toml:"Feed"`
	Decimals uint8  `toml:"Decimals"`
	// OracleID is the upstream identifier used by the HTTP feed (for
	// example a CoinGecko asset id). Empty assets are skipped by the
	// poller and must be priced manually.
	OracleID string `toml:"OracleID"`
}

// CollateralConfig lists the approved collateral assets in order.
type CollateralConfig struct {
	Assets []CollateralAsset `toml:"asset"`
}

// OracleConfig selects and tunes the price sources.
type OracleConfig struct {
	// Mode is "manual" or "http".
	Mode string `toml:"Mode"`
	// Endpoint is the polled price API for http mode.
	Endpoint string `toml:"Endpoint"`
	// PollIntervalSeconds is the refresh cadence for http mode.
	PollIntervalSeconds int `toml:"PollIntervalSeconds"`
	// MaxQuoteAgeSeconds is the freshness cutoff; 0 selects the default.
	MaxQuoteAgeSeconds int `toml:"MaxQuoteAgeSeconds"`
	// FeedDecimals is the integer precision quotes are scaled into.
	FeedDecimals uint8 `toml:"FeedDecimals"`
}

// RPCConfig tunes the JSON-RPC surface. Secrets are read from the named
// environment variables so they never live in the config file.
type RPCConfig struct {
	// AuthTokenEnv names the env var holding the bearer token required by
	// transaction methods. Empty disables transaction methods.
	AuthTokenEnv string `toml:"AuthTokenEnv"`
	// JWTSecretEnv names the env var holding the HMAC secret for admin
	// methods. Empty disables admin methods.
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	// TxRequestsPerMinute rate-limits transaction methods per source.
	TxRequestsPerMinute float64 `toml:"TxRequestsPerMinute"`
	// TxBurst is the token-bucket burst for transaction methods.
	TxBurst int `toml:"TxBurst"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

// LoggingConfig tunes log output and optional file rotation.
type LoggingConfig struct {
	Level      string `toml:"Level"`
	FilePath   string `toml:"FilePath"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// GenesisBalance seeds one account balance on first boot.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`
}

// GenesisConfig lists balances applied once to a fresh data directory.
type GenesisConfig struct {
	Balances []GenesisBalance `toml:"balance"`
}

// PollInterval returns the configured cadence as a duration.
func (o OracleConfig) PollInterval() time.Duration {
	if o.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

// MaxQuoteAge returns the configured freshness cutoff as a duration.
func (o OracleConfig) MaxQuoteAge() time.Duration {
	if o.MaxQuoteAgeSeconds <= 0 {
		return 0
	}
	return time.Duration(o.MaxQuoteAgeSeconds) * time.Second
}

// Symbols returns the collateral symbols in configuration order.
func (c CollateralConfig) Symbols() []string {
	out := make([]string, 0, len(c.Assets))
	for _, asset := range c.Assets {
		out = append(out, strings.ToUpper(strings.TrimSpace(asset.Symbol)))
	}
	return out
}

// Feeds returns the price feed identifiers in configuration order.
func (c CollateralConfig) Feeds() []string {
	out := make([]string, 0, len(c.Assets))
	for _, asset := range c.Assets {
		out = append(out, strings.ToUpper(strings.TrimSpace(asset.Feed)))
	}
	return out
}

// Load reads the configuration from path, creating a default file when none
// exists. Unknown keys are not fatal but are logged so typos surface early.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		slog.Warn("config: unknown key ignored", "key", undecoded.String(), "path", path)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			RPCAddress:  ":8545",
			DataDir:     "./stable-data",
			NetworkName: "stable-local",
		},
		Engine: EngineConfig{
			LiquidationThresholdBps: 5_000,
			LiquidationBonusBps:     1_000,
			StableSymbol:            "DSC",
		},
		Collateral: CollateralConfig{
			Assets: []CollateralAsset{
				{Symbol: "WETH", Feed: "ETH-USD", Decimals: 18, OracleID: "ethereum"},
				{Symbol: "WBTC", Feed: "BTC-USD", Decimals: 18, OracleID: "bitcoin"},
			},
		},
		Oracle: OracleConfig{
			Mode:                "manual",
			PollIntervalSeconds: 30,
			MaxQuoteAgeSeconds:  300,
			FeedDecimals:        8,
		},
		RPC: RPCConfig{
			AuthTokenEnv:        "STABLE_RPC_TOKEN",
			JWTSecretEnv:        "STABLE_JWT_SECRET",
			TxRequestsPerMinute: 60,
			TxBurst:             10,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func applyDefaults(cfg *Config) {
	defaults := defaultConfig()
	if strings.TrimSpace(cfg.Node.RPCAddress) == "" {
		cfg.Node.RPCAddress = defaults.Node.RPCAddress
	}
	if strings.TrimSpace(cfg.Node.DataDir) == "" {
		cfg.Node.DataDir = defaults.Node.DataDir
	}
	if strings.TrimSpace(cfg.Node.NetworkName) == "" {
		cfg.Node.NetworkName = defaults.Node.NetworkName
	}
	if strings.TrimSpace(cfg.Engine.StableSymbol) == "" {
		cfg.Engine.StableSymbol = defaults.Engine.StableSymbol
	}
	if strings.TrimSpace(cfg.Oracle.Mode) == "" {
		cfg.Oracle.Mode = defaults.Oracle.Mode
	}
	if cfg.Oracle.FeedDecimals == 0 {
		cfg.Oracle.FeedDecimals = defaults.Oracle.FeedDecimals
	}
	if strings.TrimSpace(cfg.RPC.AuthTokenEnv) == "" {
		cfg.RPC.AuthTokenEnv = defaults.RPC.AuthTokenEnv
	}
	if cfg.RPC.TxRequestsPerMinute <= 0 {
		cfg.RPC.TxRequestsPerMinute = defaults.RPC.TxRequestsPerMinute
	}
	if cfg.RPC.TxBurst <= 0 {
		cfg.RPC.TxBurst = defaults.RPC.TxBurst
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks the configuration the same way engine construction does, so
// misconfiguration fails at startup instead of on the first operation.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if len(c.Collateral.Assets) == 0 {
		return fmt.Errorf("config: at least one collateral asset required")
	}
	seen := make(map[string]struct{}, len(c.Collateral.Assets))
	for i, asset := range c.Collateral.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: collateral asset %d missing symbol", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate collateral symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
		if strings.TrimSpace(asset.Feed) == "" {
			return fmt.Errorf("config: collateral asset %s missing feed", symbol)
		}
		if asset.Decimals > 18 {
			return fmt.Errorf("config: collateral asset %s decimals must be <= 18", symbol)
		}
	}
	stable := strings.ToUpper(strings.TrimSpace(c.Engine.StableSymbol))
	if _, clash := seen[stable]; clash {
		return fmt.Errorf("config: stable symbol %s cannot be collateral", stable)
	}
	if c.Engine.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("config: liquidation threshold above 10000 bps")
	}
	if c.Engine.LiquidationBonusBps > 10_000 {
		return fmt.Errorf("config: liquidation bonus above 10000 bps")
	}
	switch strings.ToLower(strings.TrimSpace(c.Oracle.Mode)) {
	case "manual", "http":
	default:
		return fmt.Errorf("config: oracle mode must be manual or http, got %q", c.Oracle.Mode)
	}
	if c.Oracle.FeedDecimals > 18 {
		return fmt.Errorf("config: oracle feed decimals must be <= 18")
	}
	for i, bal := range c.Genesis.Balances {
		if strings.TrimSpace(bal.Address) == "" {
			return fmt.Errorf("config: genesis balance %d missing address", i)
		}
		if strings.TrimSpace(bal.Symbol) == "" {
			return fmt.Errorf("config: genesis balance %d missing symbol", i)
		}
		if strings.TrimSpace(bal.Amount) == "" {
			return fmt.Errorf("config: genesis balance %d missing amount", i)
		}
	}
	return nil
}
