package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tabsplit/crypto"
)

// Config drives the coordinator daemon. All monetary knobs are explicit: the
// fiat currency carts are denominated in, the settlement asset, and the fixed
// recipient every settlement pays.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	SignerKeyFile  string `toml:"SignerKeyFile"`
	Restaurant     string `toml:"Restaurant"`
	Recipient      string `toml:"Recipient"`
	Quorum         uint32 `toml:"Quorum"`
	FiatCurrency   string `toml:"FiatCurrency"`
	AssetSymbol    string `toml:"AssetSymbol"`
	AssetDecimals  uint8  `toml:"AssetDecimals"`
	ConfirmTimeout int64  `toml:"ConfirmTimeoutSeconds"`
	SeedHistory    bool   `toml:"SeedHistory"`

	RateSource        string            `toml:"RateSource"`
	ManualRate        string            `toml:"ManualRate"`
	RateMaxAgeSeconds int64             `toml:"RateMaxAgeSeconds"`
	CoinGeckoEndpoint string            `toml:"CoinGeckoEndpoint"`
	CoinGeckoAssetIDs map[string]string `toml:"CoinGeckoAssetIDs"`

	BroadcastMode     string `toml:"BroadcastMode"`
	BroadcastEndpoint string `toml:"BroadcastEndpoint"`
}

// Rate source and broadcast mode selectors.
const (
	RateSourceManual    = "manual"
	RateSourceCoinGecko = "coingecko"

	BroadcastModeLocal = "local"
	BroadcastModeHTTP  = "http"
)

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tabsplit-data"
	}
	if strings.TrimSpace(c.SignerKeyFile) == "" {
		c.SignerKeyFile = filepath.Join(c.DataDir, "signer.key")
	}
	if strings.TrimSpace(c.Restaurant) == "" {
		c.Restaurant = "Crypto Cafe"
	}
	if c.Quorum < 1 {
		c.Quorum = 1
	}
	if strings.TrimSpace(c.FiatCurrency) == "" {
		c.FiatCurrency = "USD"
	}
	if strings.TrimSpace(c.AssetSymbol) == "" {
		c.AssetSymbol = "SOL"
	}
	if c.AssetDecimals == 0 {
		c.AssetDecimals = 9
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 90
	}
	if strings.TrimSpace(c.RateSource) == "" {
		c.RateSource = RateSourceManual
	}
	if strings.TrimSpace(c.ManualRate) == "" {
		c.ManualRate = "100"
	}
	if c.RateMaxAgeSeconds <= 0 {
		c.RateMaxAgeSeconds = 300
	}
	if c.CoinGeckoAssetIDs == nil {
		c.CoinGeckoAssetIDs = map[string]string{"SOL": "solana"}
	}
	if strings.TrimSpace(c.BroadcastMode) == "" {
		c.BroadcastMode = BroadcastModeLocal
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Recipient) != "" {
		if _, err := crypto.DecodeAddress(c.Recipient); err != nil {
			return fmt.Errorf("config: invalid recipient address: %w", err)
		}
	}
	switch c.RateSource {
	case RateSourceManual, RateSourceCoinGecko:
	default:
		return fmt.Errorf("config: unknown rate source %q", c.RateSource)
	}
	switch c.BroadcastMode {
	case BroadcastModeLocal:
	case BroadcastModeHTTP:
		if strings.TrimSpace(c.BroadcastEndpoint) == "" {
			return fmt.Errorf("config: broadcast mode %q requires BroadcastEndpoint", c.BroadcastMode)
		}
	default:
		return fmt.Errorf("config: unknown broadcast mode %q", c.BroadcastMode)
	}
	if c.AssetDecimals > 18 {
		return fmt.Errorf("config: asset decimals out of range: %d", c.AssetDecimals)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.SeedHistory = true
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(cfg)
}
