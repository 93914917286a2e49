package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Network names accepted by SOLANA_NETWORK.
const (
	NetworkMainnet = "mainnet"
	NetworkDevnet  = "devnet"
	NetworkTestnet = "testnet"
)

// DefaultGoldMint is the GOLD token mint address.
const DefaultGoldMint = "APkBg8kzMBpVKxvgrw67vkd5KuGWqSu2GVb19eK4pump"

// Config holds all application configuration loaded from environment variables.
// Everything has a usable default so the CLI works with an empty environment;
// values that are present but malformed fail at startup.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Active network for balance polling, history and transfers
	Network string

	// Solana RPC endpoints per network
	SolanaMainnetRPCURL string
	SolanaDevnetRPCURL  string
	SolanaTestnetRPCURL string

	// GOLD token per network
	GoldMainnetMintAddress string
	GoldDevnetMintAddress  string
	GoldTestnetMintAddress string
	GoldDecimals           int

	// Explorer
	ExplorerBaseURL string

	// Database configuration. Persistence is disabled when empty.
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	BalancePollInterval time.Duration
	MinPollInterval     time.Duration
	HistoryLimit        int
	RPCRequestDelay     time.Duration

	// Wallet providers: paths to keypair files standing in for the
	// browser extensions. A missing file means "not installed".
	PhantomKeypairPath  string
	SolflareKeypairPath string
}

// Load reads configuration from environment variables and validates it.
// All problems are collected and reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.Network = strings.ToLower(getEnvOrDefault("SOLANA_NETWORK", NetworkDevnet))
	if !isKnownNetwork(cfg.Network) {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be one of mainnet, devnet, testnet (got %q)", cfg.Network))
	}

	cfg.SolanaMainnetRPCURL = getEnvOrDefault("SOLANA_MAINNET_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.SolanaDevnetRPCURL = getEnvOrDefault("SOLANA_DEVNET_RPC_URL", "https://api.devnet.solana.com")
	cfg.SolanaTestnetRPCURL = getEnvOrDefault("SOLANA_TESTNET_RPC_URL", "https://api.testnet.solana.com")

	cfg.GoldMainnetMintAddress = getEnvOrDefault("GOLD_MAINNET_MINT_ADDRESS", DefaultGoldMint)
	cfg.GoldDevnetMintAddress = getEnvOrDefault("GOLD_DEVNET_MINT_ADDRESS", DefaultGoldMint)
	cfg.GoldTestnetMintAddress = getEnvOrDefault("GOLD_TESTNET_MINT_ADDRESS", DefaultGoldMint)

	decimals, err := parseInt("GOLD_DECIMALS", 9)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.GoldDecimals = decimals
	}

	cfg.ExplorerBaseURL = getEnvOrDefault("EXPLORER_BASE_URL", "https://explorer.solana.com")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "goldium-wallet-sync")

	pollInterval, err := parseDuration("BALANCE_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalancePollInterval = pollInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	if cfg.MinPollInterval > cfg.BalancePollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than BALANCE_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.BalancePollInterval))
	}

	limit, err := parseInt("HISTORY_LIMIT", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryLimit = limit
	}

	delay, err := parseDuration("RPC_REQUEST_DELAY", "600ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRequestDelay = delay
	}

	cfg.PhantomKeypairPath = getEnvOrDefault("PHANTOM_KEYPAIR", defaultKeypairPath("phantom.json"))
	cfg.SolflareKeypairPath = getEnvOrDefault("SOLFLARE_KEYPAIR", defaultKeypairPath("solflare.json"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if !isKnownNetwork(c.Network) {
		errs = append(errs, fmt.Errorf("Network %q is not one of mainnet, devnet, testnet", c.Network))
	}

	if c.SolanaMainnetRPCURL == "" || c.SolanaDevnetRPCURL == "" || c.SolanaTestnetRPCURL == "" {
		errs = append(errs, fmt.Errorf("an RPC URL is required for every network"))
	}

	if c.GoldMainnetMintAddress == "" || c.GoldDevnetMintAddress == "" || c.GoldTestnetMintAddress == "" {
		errs = append(errs, fmt.Errorf("a GOLD mint address is required for every network"))
	}

	if c.GoldDecimals < 0 || c.GoldDecimals > 18 {
		errs = append(errs, fmt.Errorf("GoldDecimals must be between 0 and 18"))
	}

	if c.MinPollInterval > c.BalancePollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than BalancePollInterval"))
	}

	if c.BalancePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("BalancePollInterval must be at least 1 second"))
	}

	if c.HistoryLimit < 1 || c.HistoryLimit > 1000 {
		errs = append(errs, fmt.Errorf("HistoryLimit must be between 1 and 1000"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RPCURL returns the RPC endpoint for the named network.
func (c *Config) RPCURL(network string) (string, error) {
	switch network {
	case NetworkMainnet:
		return c.SolanaMainnetRPCURL, nil
	case NetworkDevnet:
		return c.SolanaDevnetRPCURL, nil
	case NetworkTestnet:
		return c.SolanaTestnetRPCURL, nil
	default:
		return "", fmt.Errorf("unknown network %q", network)
	}
}

// GoldMint returns the GOLD mint address for the named network.
func (c *Config) GoldMint(network string) (string, error) {
	switch network {
	case NetworkMainnet:
		return c.GoldMainnetMintAddress, nil
	case NetworkDevnet:
		return c.GoldDevnetMintAddress, nil
	case NetworkTestnet:
		return c.GoldTestnetMintAddress, nil
	default:
		return "", fmt.Errorf("unknown network %q", network)
	}
}

// KeypairPath returns the keypair file backing a wallet provider.
func (c *Config) KeypairPath(provider string) (string, error) {
	switch provider {
	case "phantom":
		return c.PhantomKeypairPath, nil
	case "solflare":
		return c.SolflareKeypairPath, nil
	default:
		return "", fmt.Errorf("unknown wallet provider %q", provider)
	}
}

func isKnownNetwork(network string) bool {
	switch network {
	case NetworkMainnet, NetworkDevnet, NetworkTestnet:
		return true
	}
	return false
}

func defaultKeypairPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "goldium", name)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
