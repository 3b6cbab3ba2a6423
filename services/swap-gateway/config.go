package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// APIKeyConfig is a single API key + shared secret pair accepted by the
// gateway's HMAC authentication.
type APIKeyConfig struct {
	Key    string `toml:"Key" json:"key"`
	Secret string `toml:"Secret" json:"secret"`
}

// RateLimitConfig is the token bucket applied to a route group.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// JWTConfig enables the optional bearer token layer in front of the
// signed-request authentication.
type JWTConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Secret   string `toml:"Secret"`
	Issuer   string `toml:"Issuer"`
	Audience string `toml:"Audience"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}

// PolicyConfig overrides the engine policy floors. Amounts are decimal
// strings in base units.
type PolicyConfig struct {
	MinSafetyDeposit      string `toml:"MinSafetyDeposit"`
	FinalityPeriodSeconds int64  `toml:"FinalityPeriodSeconds"`
	MinOrderDeposit       string `toml:"MinOrderDeposit"`
}

// Config captures the runtime configuration of the swap gateway.
type Config struct {
	ListenAddress    string                     `toml:"ListenAddress"`
	Environment      string                     `toml:"Environment"`
	DataDir          string                     `toml:"DataDir"`
	ReceiptsPath     string                     `toml:"ReceiptsPath"`
	NonceDBPath      string                     `toml:"NonceDBPath"`
	TimestampSkew    string                     `toml:"TimestampSkew"`
	NonceTTL         string                     `toml:"NonceTTL"`
	NonceCapacity    int                        `toml:"NonceCapacity"`
	APIKeys          []APIKeyConfig             `toml:"APIKeys"`
	CreatorAllowlist []string                   `toml:"CreatorAllowlist"`
	RateLimits       map[string]RateLimitConfig `toml:"RateLimits"`
	JWT              JWTConfig                  `toml:"JWT"`
	Telemetry        TelemetryConfig            `toml:"Telemetry"`
	Policy           PolicyConfig               `toml:"Policy"`
	LogRequests      bool                       `toml:"LogRequests"`

	timestampSkew time.Duration
	nonceTTL      time.Duration
}

// LoadConfig reads the TOML file at path (when it exists) and applies
// environment overrides on top. The gateway starts with sane defaults when no
// file is present so local runs need nothing but API keys.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8090",
		Environment:   "dev",
		DataDir:       "swap-gateway-data",
		ReceiptsPath:  "swap-gateway.db",
		NonceDBPath:   "swap-gateway-nonces",
		TimestampSkew: "2m",
		NonceTTL:      "4m",
		NonceCapacity: 1024,
	}
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)

	skew, err := time.ParseDuration(cfg.TimestampSkew)
	if err != nil {
		return nil, fmt.Errorf("parse TimestampSkew: %w", err)
	}
	if skew <= 0 {
		return nil, errors.New("TimestampSkew must be positive")
	}
	cfg.timestampSkew = skew

	ttl, err := time.ParseDuration(cfg.NonceTTL)
	if err != nil {
		return nil, fmt.Errorf("parse NonceTTL: %w", err)
	}
	if ttl < skew {
		ttl = 2 * skew
	}
	cfg.nonceTTL = ttl

	if cfg.NonceCapacity <= 0 {
		return nil, errors.New("NonceCapacity must be positive")
	}
	for i, entry := range cfg.APIKeys {
		if strings.TrimSpace(entry.Key) == "" || strings.TrimSpace(entry.Secret) == "" {
			return nil, fmt.Errorf("api key entry %d must include key and secret", i)
		}
	}
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("no API keys configured")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_RECEIPTS_PATH")); v != "" {
		cfg.ReceiptsPath = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_NONCE_DB")); v != "" {
		cfg.NonceDBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_TIMESTAMP_SKEW")); v != "" {
		cfg.TimestampSkew = v
	}
	// API keys as a JSON array: [{"key":"...","secret":"..."}, ...]
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_API_KEYS")); v != "" {
		var entries []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &entries); err == nil && len(entries) > 0 {
			cfg.APIKeys = entries
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWAP_GATEWAY_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}
}

// Secrets returns the API keys as the map expected by the authenticator.
func (c *Config) Secrets() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for _, entry := range c.APIKeys {
		out[strings.TrimSpace(entry.Key)] = strings.TrimSpace(entry.Secret)
	}
	return out
}

// parsePolicyAmount parses a decimal base-unit amount, returning nil for an
// empty string so engine defaults apply.
func parsePolicyAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid policy amount: %q", raw)
	}
	return value, nil
}
