package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Clusters the gateway and RPC adapters know how to address.
const (
	ClusterDevnet  = "devnet"
	ClusterTestnet = "testnet"
	ClusterMainnet = "mainnet-beta"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Cluster configuration
	Cluster            string
	SolanaRPCURL       string
	SolanaRPCRateLimit float64

	// Gateway configuration
	SanctumBaseURL         string
	SanctumAPIKey          string
	MockGateway            bool
	DefaultJitoTipLamports uint64

	// Polling configuration
	PollInterval     time.Duration
	MaxActivePollers int

	// Streaming configuration
	StreamHeartbeatInterval time.Duration
	StreamBufferSize        int

	// NATS configuration; empty disables the JetStream relay
	NATSURL string

	// Demo transfer payer, base58 secret key (devnet only)
	DevnetPayerSecret string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Cluster configuration
	cfg.Cluster = getEnvOrDefault("AURORA_CLUSTER", ClusterDevnet)
	cfg.SolanaRPCURL = getEnvOrDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com")

	rateLimit, err := parseFloat("SOLANA_RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SolanaRPCRateLimit = rateLimit
	}

	// Gateway configuration
	cfg.SanctumBaseURL = getEnvOrDefault("SANCTUM_BASE_URL", "https://tpg.sanctum.so/v1")
	cfg.SanctumAPIKey = os.Getenv("SANCTUM_API_KEY")

	mock, err := parseBool("MOCK_GATEWAY", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MockGateway = mock
	}

	tip, err := parseUint("DEFAULT_JITO_TIP_LAMPORTS", 50_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultJitoTipLamports = tip
	}

	// Polling configuration
	interval, err := parseDuration("POLL_INTERVAL", "800ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = interval
	}

	maxActive, err := parseInt("MAX_ACTIVE_POLLERS", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxActivePollers = maxActive
	}

	// Streaming configuration
	heartbeat, err := parseDuration("STREAM_HEARTBEAT_INTERVAL", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StreamHeartbeatInterval = heartbeat
	}

	bufferSize, err := parseInt("STREAM_BUFFER_SIZE", 64)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StreamBufferSize = bufferSize
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.DevnetPayerSecret = os.Getenv("DEVNET_PAYER_SECRET")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
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

	switch c.Cluster {
	case ClusterDevnet, ClusterTestnet, ClusterMainnet:
	default:
		errs = append(errs, fmt.Errorf("AURORA_CLUSTER must be one of devnet, testnet, mainnet-beta (got %q)", c.Cluster))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	if !c.MockGateway && c.SanctumAPIKey == "" {
		errs = append(errs, fmt.Errorf("SANCTUM_API_KEY is required when MOCK_GATEWAY=false"))
	}

	if c.PollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 100ms (got %v)", c.PollInterval))
	}

	if c.MaxActivePollers < 1 {
		errs = append(errs, fmt.Errorf("MAX_ACTIVE_POLLERS must be at least 1 (got %d)", c.MaxActivePollers))
	}

	if c.StreamHeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_HEARTBEAT_INTERVAL must be positive"))
	}

	if c.StreamBufferSize < 1 {
		errs = append(errs, fmt.Errorf("STREAM_BUFFER_SIZE must be at least 1"))
	}

	if c.SolanaRPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_RATE_LIMIT cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// DemoEnabled reports whether the devnet demo transfer route can be served.
func (c *Config) DemoEnabled() bool {
	return c.Cluster == ClusterDevnet && c.DevnetPayerSecret != "" && c.SanctumAPIKey != ""
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

func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
