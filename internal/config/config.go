// Package config provides configuration for the harbor daemon. Values load
// from a YAML file with environment overrides for secrets; the mnemonic is
// validated at load time and a bad seed refuses to start the process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coinharbor/harbor/internal/wallet"
)

// Config holds all configuration for the daemon.
type Config struct {
	// Mnemonic is the BIP-39 master seed phrase. Prefer the
	// HARBOR_MNEMONIC environment variable over the config file.
	Mnemonic string `yaml:"mnemonic,omitempty"`

	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
	Chains  ChainsConfig  `yaml:"chains"`
	Monitor MonitorConfig `yaml:"monitor"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Orders  OrdersConfig  `yaml:"orders"`
	Pricing PricingConfig `yaml:"pricing"`
}

// StorageConfig holds datastore settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// APIConfig holds the JSON-RPC API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ChainsConfig holds per-chain explorer/RPC endpoints.
type ChainsConfig struct {
	BitcoinAPI  string `yaml:"bitcoin_api"`
	EthereumRPC string `yaml:"ethereum_rpc"`
	SolanaRPC   string `yaml:"solana_rpc"`
	TronAPI     string `yaml:"tron_api"`
	TronAPIKey  string `yaml:"tron_api_key,omitempty"`
}

// MonitorConfig tunes the deposit monitor loop.
type MonitorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	RatePerSecond int           `yaml:"rate_per_second"`

	// MinConfirmationRatio is the fraction of the expected amount
	// that counts as paid in full. The sub-1.0 default absorbs
	// sender-side fee deductions and exchange rounding, so a deposit
	// a few percent short still completes the order.
	MinConfirmationRatio float64 `yaml:"min_confirmation_ratio"`

	// PendingCutoff bounds how long an unpaid pending order survives
	// before the bulk cleanup removes it.
	PendingCutoff time.Duration `yaml:"pending_cutoff"`
}

// SweepConfig tunes the consolidation sweeper.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`

	// SolanaPercent sweeps only this share of a Solana balance
	// (1-100). A safety valve against draining an account completely.
	SolanaPercent int `yaml:"solana_percent"`

	// GasBufferMultiplier is how much extra native ETH to send when
	// funding a token address for its transfer gas.
	GasBufferMultiplier int `yaml:"gas_buffer_multiplier"`

	// LookupBound caps the reverse address scan.
	LookupBound uint32 `yaml:"lookup_bound"`
}

// OrdersConfig holds order lifecycle windows.
type OrdersConfig struct {
	PackageExpiry      time.Duration `yaml:"package_expiry"`
	KycExpiry          time.Duration `yaml:"kyc_expiry"`
	VerificationExpiry time.Duration `yaml:"verification_expiry"`
}

// PricingConfig holds market data settings.
type PricingConfig struct {
	APIBase         string        `yaml:"api_base"`
	Currency        string        `yaml:"currency"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// Default returns the default configuration with public endpoints.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.harbor",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8090",
		},
		Chains: ChainsConfig{
			BitcoinAPI:  "https://blockstream.info/api",
			EthereumRPC: "https://eth.llamarpc.com",
			SolanaRPC:   "https://api.mainnet-beta.solana.com",
			TronAPI:     "https://api.trongrid.io",
		},
		Monitor: MonitorConfig{
			Interval:             60 * time.Second,
			MaxAttempts:          3,
			BaseBackoff:          2 * time.Second,
			RatePerSecond:        2,
			MinConfirmationRatio: 0.94,
			PendingCutoff:        35 * time.Minute,
		},
		Sweep: SweepConfig{
			Interval:            15 * time.Minute,
			SolanaPercent:       100,
			GasBufferMultiplier: 2,
			LookupBound:         5000,
		},
		Orders: OrdersConfig{
			PackageExpiry:      60 * time.Minute,
			KycExpiry:          120 * time.Minute,
			VerificationExpiry: 30 * time.Minute,
		},
		Pricing: PricingConfig{
			APIBase:         "https://api.coingecko.com/api/v3",
			Currency:        "usd",
			RefreshInterval: 5 * time.Minute,
			CacheTTL:        15 * time.Minute,
		},
	}
}

// Load reads configuration from a YAML file (if it exists), layers
// defaults underneath, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPath returns the default config file location under a data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// applyEnv overlays environment variables onto the config. Secrets should
// arrive this way rather than via the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("HARBOR_MNEMONIC"); v != "" {
		c.Mnemonic = v
	}
	if v := os.Getenv("HARBOR_BITCOIN_API"); v != "" {
		c.Chains.BitcoinAPI = v
	}
	if v := os.Getenv("HARBOR_ETHEREUM_RPC"); v != "" {
		c.Chains.EthereumRPC = v
	}
	if v := os.Getenv("HARBOR_SOLANA_RPC"); v != "" {
		c.Chains.SolanaRPC = v
	}
	if v := os.Getenv("HARBOR_TRON_API"); v != "" {
		c.Chains.TronAPI = v
	}
	if v := os.Getenv("HARBOR_TRON_API_KEY"); v != "" {
		c.Chains.TronAPIKey = v
	}
}

// Validate checks configuration invariants. A missing or malformed
// mnemonic is a configuration error: the process must not serve with a
// corrupt key manager.
func (c *Config) Validate() error {
	if c.Mnemonic == "" {
		return fmt.Errorf("mnemonic is required (set HARBOR_MNEMONIC)")
	}
	if !wallet.ValidateMnemonic(c.Mnemonic) {
		return fmt.Errorf("mnemonic failed BIP-39 checksum validation")
	}

	if c.Chains.BitcoinAPI == "" || c.Chains.EthereumRPC == "" ||
		c.Chains.SolanaRPC == "" || c.Chains.TronAPI == "" {
		return fmt.Errorf("all chain endpoints must be configured")
	}

	if c.Monitor.MinConfirmationRatio <= 0 || c.Monitor.MinConfirmationRatio > 1 {
		return fmt.Errorf("min_confirmation_ratio must be in (0, 1], got %v", c.Monitor.MinConfirmationRatio)
	}
	if c.Sweep.SolanaPercent < 1 || c.Sweep.SolanaPercent > 100 {
		return fmt.Errorf("solana_percent must be in [1, 100], got %d", c.Sweep.SolanaPercent)
	}
	if c.Monitor.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// Save writes the config to a YAML file (without the mnemonic).
func (c *Config) Save(path string) error {
	scrubbed := *c
	scrubbed.Mnemonic = ""

	data, err := yaml.Marshal(&scrubbed)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
