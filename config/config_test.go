package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayyu23/x402-zkid/x402"
)

const testPayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

var envKeys = []string{
	"X402_LISTEN", "X402_PUBLIC_URL", "FACILITATOR_URL", "X402_FACILITATOR_MODE",
	"CDP_API_KEY_ID", "CDP_API_KEY", "CDP_API_KEY_SECRET", "CDP_WALLET_SECRET",
	"X402_PAYTO", "REDIS_URL", "X402_LOG_LEVEL", "X402_VERIFY_TIMEOUT_MS",
	"X402_SETTLE", "X402_METRICS_ENABLED", "X402_MCP_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x402.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("X402_PAYTO", testPayTo)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Listen)
	assert.Equal(t, ModeRemote, cfg.Facilitator.Mode)
	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/discovery/mcp", cfg.MCP.Path)
	assert.Equal(t, testPayTo, cfg.Payee.Address)
	assert.Equal(t, DefaultRoutes(), cfg.Routes)
}

func TestLoadRequiresPayee(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	var cfgErr *x402.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "GET /api", cfgErr.Route)

	t.Setenv("CDP_API_KEY_ID", "key-id")
	t.Setenv("CDP_API_KEY_SECRET", "key-secret")
	t.Setenv("CDP_WALLET_SECRET", "wallet-secret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.CanProvisionPayee())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  listen: "127.0.0.1:8080"
  public_url: "https://api.example.com"
facilitator:
  mode: local
  timeout_ms: 2500
  settle: true
logging:
  level: debug
  format: console
metrics:
  enabled: true
routes:
  "GET /weather":
    description: Weather for a city
    mime_type: application/json
    query_params:
      city: City name
    accepts:
      - scheme: exact
        network: "eip155:84532"
        price: "$0.001"
        pay_to: "`+testPayTo+`"
  "GET /free": {}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, "https://api.example.com", cfg.Server.PublicURL)
	assert.Equal(t, ModeLocal, cfg.Facilitator.Mode)
	assert.Equal(t, 2500*time.Millisecond, cfg.VerifyTimeout())
	assert.True(t, cfg.Facilitator.Settle)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "console", cfg.Logging.Format)

	require.Len(t, cfg.Routes, 2)
	weather := cfg.Routes["GET /weather"]
	assert.Equal(t, "Weather for a city", weather.Description)
	assert.Equal(t, map[string]string{"city": "City name"}, weather.QueryParams)
	require.Len(t, weather.Accepts, 1)
	assert.Equal(t, x402.PaymentRequirement{
		Scheme:  "exact",
		Network: "eip155:84532",
		Price:   "$0.001",
		PayTo:   testPayTo,
	}, weather.Accepts[0])
	assert.Empty(t, cfg.Routes["GET /free"].Accepts)

	_, err = x402.NewRegistry(cfg.Routes)
	assert.NoError(t, err)
}

func TestLoadEmptyRoutesIsKept(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "routes: {}\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Routes)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("X402_LISTEN", ":9999")
	t.Setenv("FACILITATOR_URL", "https://facilitator.example")
	t.Setenv("X402_FACILITATOR_MODE", "LOCAL")
	t.Setenv("CDP_API_KEY", "legacy-id")
	t.Setenv("X402_PAYTO", testPayTo)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("X402_LOG_LEVEL", "WARN")
	t.Setenv("X402_VERIFY_TIMEOUT_MS", "1500")
	t.Setenv("X402_SETTLE", "yes")
	t.Setenv("X402_METRICS_ENABLED", "1")
	t.Setenv("X402_MCP_ENABLED", "off")

	path := writeConfig(t, "mcp:\n  enabled: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, "https://facilitator.example", cfg.Facilitator.URL)
	assert.Equal(t, ModeLocal, cfg.Facilitator.Mode)
	assert.Equal(t, "legacy-id", cfg.Facilitator.APIKeyID)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Payee.RedisURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 1500*time.Millisecond, cfg.VerifyTimeout())
	assert.True(t, cfg.Facilitator.Settle)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.MCP.Enabled)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
	}{
		"missing file":  {file: "-"},
		"bad yaml":      {file: "server: [\n"},
		"bad mode":      {file: "facilitator:\n  mode: psychic\n"},
		"bad log level": {file: "logging:\n  level: loud\n"},
		"relative path": {file: "metrics:\n  path: metrics\n"},
		"bad timeout":   {env: map[string]string{"X402_VERIFY_TIMEOUT_MS": "soon"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("X402_PAYTO", testPayTo)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			path := ""
			switch tc.file {
			case "":
			case "-":
				path = filepath.Join(t.TempDir(), "missing.yaml")
			default:
				path = writeConfig(t, tc.file)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("FLAG", "maybe")
	assert.True(t, envBool("FLAG", true))
	assert.False(t, envBool("FLAG", false))

	t.Setenv("FLAG", "TRUE")
	assert.True(t, envBool("FLAG", false))

	t.Setenv("FLAG", "")
	assert.True(t, envBool("FLAG", true))
}
