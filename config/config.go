package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jayyu23/x402-zkid/x402"
)

const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

type Config struct {
	Server struct {
		Listen            string `yaml:"listen" validate:"required"`
		ReadTimeoutMs     int    `yaml:"read_timeout_ms" validate:"gt=0"`
		WriteTimeoutMs    int    `yaml:"write_timeout_ms" validate:"gt=0"`
		ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms" validate:"gt=0"`
		// PublicURL is advertised in discovery. Derived from the request when empty.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`

	Facilitator struct {
		// Mode "remote" verifies through the facilitator, "local" uses the
		// in-process exact/EVM checker.
		Mode         string `yaml:"mode" validate:"oneof=remote local"`
		URL          string `yaml:"url"`
		APIKeyID     string `yaml:"api_key_id"`
		APIKeySecret string `yaml:"api_key_secret"`
		TimeoutMs    int    `yaml:"timeout_ms" validate:"gt=0"`
		Settle       bool   `yaml:"settle"`
	} `yaml:"facilitator"`

	Payee struct {
		// Address is used as payTo for every requirement that leaves it empty.
		Address      string `yaml:"address"`
		AccountName  string `yaml:"account_name"`
		WalletSecret string `yaml:"wallet_secret"`
		RedisURL     string `yaml:"redis_url"`
	} `yaml:"payee"`

	Routes x402.RoutesConfig `yaml:"routes"`

	Logging struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=json console"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" validate:"startswith=/"`
	} `yaml:"metrics"`

	MCP struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" validate:"startswith=/"`
	} `yaml:"mcp"`
}

var validate = validator.New()

// Load reads .env (if present), then the YAML file at path (skipped when
// path is empty), then applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		// #nosec G304 -- path comes from a CLI flag.
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRoutes protects GET /api for one cent of USDC on Base Sepolia.
func DefaultRoutes() x402.RoutesConfig {
	return x402.RoutesConfig{
		"GET /api": {
			Description: "Access to API endpoint",
			MimeType:    "application/json",
			Accepts: []x402.PaymentRequirement{{
				Scheme:  x402.SchemeExact,
				Network: "eip155:84532",
				Price:   "$0.01",
			}},
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":3000"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 15000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 30000
	}
	if cfg.Server.ShutdownTimeoutMs <= 0 {
		cfg.Server.ShutdownTimeoutMs = 10000
	}
	if cfg.Facilitator.Mode == "" {
		cfg.Facilitator.Mode = ModeRemote
	}
	if cfg.Facilitator.TimeoutMs <= 0 {
		cfg.Facilitator.TimeoutMs = int(x402.DefaultVerifyTimeout / time.Millisecond)
	}
	if cfg.Payee.AccountName == "" {
		cfg.Payee.AccountName = "x402-zkid-payee"
	}
	// nil means the file had no routes key; an explicit empty map is kept.
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/discovery/mcp"
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("X402_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_PUBLIC_URL")); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FACILITATOR_URL")); v != "" {
		cfg.Facilitator.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_FACILITATOR_MODE")); v != "" {
		cfg.Facilitator.Mode = strings.ToLower(v)
	}
	if v := firstEnv("CDP_API_KEY_ID", "CDP_API_KEY"); v != "" {
		cfg.Facilitator.APIKeyID = v
	}
	if v := strings.TrimSpace(os.Getenv("CDP_API_KEY_SECRET")); v != "" {
		cfg.Facilitator.APIKeySecret = v
	}
	if v := strings.TrimSpace(os.Getenv("CDP_WALLET_SECRET")); v != "" {
		cfg.Payee.WalletSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_PAYTO")); v != "" {
		cfg.Payee.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.Payee.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("X402_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("X402_VERIFY_TIMEOUT_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("X402_VERIFY_TIMEOUT_MS: %w", err)
		}
		cfg.Facilitator.TimeoutMs = n
	}
	cfg.Facilitator.Settle = envBool("X402_SETTLE", cfg.Facilitator.Settle)
	cfg.Metrics.Enabled = envBool("X402_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.MCP.Enabled = envBool("X402_MCP_ENABLED", cfg.MCP.Enabled)
	return nil
}

// Validate checks field constraints and that every requirement can get a
// payTo address, either inline, from payee.address, or by provisioning.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Payee.Address == "" && !c.CanProvisionPayee() {
		for pattern, rc := range c.Routes {
			for i, req := range rc.Accepts {
				if strings.TrimSpace(req.PayTo) == "" {
					return &x402.ConfigError{
						Route: pattern,
						Field: fmt.Sprintf("accepts[%d].payTo", i),
						Err:   errors.New("no pay_to, no payee.address and no CDP credentials to provision one"),
					}
				}
			}
		}
	}
	return nil
}

// CanProvisionPayee reports whether CDP credentials allow creating a payee
// account at startup.
func (c *Config) CanProvisionPayee() bool {
	return c.Facilitator.APIKeyID != "" && c.Facilitator.APIKeySecret != "" && c.Payee.WalletSecret != ""
}

func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.Facilitator.TimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutMs) * time.Millisecond
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
