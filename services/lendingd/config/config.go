package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen            = ":8446"
	defaultRequestsPerMinute = 600
	defaultBurst             = 60
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	MarketPath    string          `yaml:"market"`
	DataDir       string          `yaml:"data_dir"`
	Journal       string          `yaml:"journal"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer-token verification. HMACSecretEnv names an
// environment variable consulted when HMACSecret is empty. Admins are granted
// every gated ledger method on top of the market file's admins.
type AuthConfig struct {
	HMACSecret    string   `yaml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	Admins        []string `yaml:"admins"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig selects the log level and an optional rotated file sink.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.MarketPath = strings.TrimSpace(cfg.MarketPath)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Journal = strings.TrimSpace(cfg.Journal)
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg.MarketPath == "" {
		return fmt.Errorf("market: path to the market listing is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return cfg.ClientCAPath != ""
}

func (cfg *AuthConfig) normalize() {
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.HMACSecretEnv = strings.TrimSpace(cfg.HMACSecretEnv)
	if cfg.HMACSecret == "" && cfg.HMACSecretEnv != "" {
		cfg.HMACSecret = strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv))
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	admins := make([]string, 0, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		if trimmed := strings.TrimSpace(admin); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	cfg.Admins = admins
}

func (cfg AuthConfig) validate() error {
	if cfg.HMACSecret == "" {
		return fmt.Errorf("hmac_secret (or hmac_secret_env) must be configured")
	}
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac_secret must be at least 32 bytes")
	}
	for _, admin := range cfg.Admins {
		if !common.IsHexAddress(admin) {
			return fmt.Errorf("admin %q is not a hex address", admin)
		}
	}
	return nil
}

// AdminAddresses returns the parsed admin list.
func (cfg AuthConfig) AdminAddresses() []common.Address {
	out := make([]common.Address, 0, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		out = append(out, common.HexToAddress(admin))
	}
	return out
}
