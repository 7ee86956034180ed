package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"
log_level = "debug"

[engine]
window = "90s"
alpha = 0.5

[[chains]]
name = "ethereum"
ws_url = "wss://feed.example.com/eth"
rpc_url = "https://rpc.example.com/eth"

[[chains]]
name = "arbitrum"
ws_url = "wss://feed.example.com/arb"

[[detectors]]
name = "large_swap"
[detectors.params]
min_amount_usd = 500000.0

[server]
port = 9000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 90*time.Second, cfg.Engine.Window.Duration)
	assert.Equal(t, 0.5, cfg.Engine.Alpha)
	// Untouched sections keep their defaults.
	assert.Equal(t, 75.0, cfg.Engine.CriticalUp)
	assert.Equal(t, 120, cfg.Budget.Capacity)
	assert.Equal(t, 9000, cfg.Server.Port)

	require.Len(t, cfg.Chains, 2)
	arb, ok := cfg.Chain("arbitrum")
	require.True(t, ok)
	assert.Equal(t, "wss://feed.example.com/arb", arb.WSURL)
	_, ok = cfg.Chain("base")
	assert.False(t, ok)

	require.Len(t, cfg.Detectors, 1)
	assert.Equal(t, 500000.0, cfg.Detectors[0].Params["min_amount_usd"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEXGUARD_MODE", "serve")
	t.Setenv("DEXGUARD_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("DEXGUARD_ENGINE_WINDOW", "5m")
	t.Setenv("DEXGUARD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Window.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Mode = "turbo" },
			want:   "unknown mode",
		},
		{
			name:   "alpha out of range",
			mutate: func(c *Config) { c.Engine.Alpha = 1.5 },
			want:   "alpha",
		},
		{
			name:   "inverted hysteresis band",
			mutate: func(c *Config) { c.Engine.ElevatedDown = 50 },
			want:   "elevated_down",
		},
		{
			name:   "no chains in monitor mode",
			mutate: func(c *Config) { c.Mode = "monitor"; c.Chains = nil },
			want:   "at least one chain",
		},
		{
			name: "duplicate chain",
			mutate: func(c *Config) {
				c.Chains = append(c.Chains, c.Chains[0])
			},
			want: "duplicate chain",
		},
		{
			name: "unknown detector",
			mutate: func(c *Config) {
				c.Detectors = append(c.Detectors, DetectorConfig{Name: "psychic"})
			},
			want: "unknown detector",
		},
		{
			name:   "bad budget capacity",
			mutate: func(c *Config) { c.Budget.Capacity = 0 },
			want:   "capacity",
		},
		{
			name: "archive without s3 bucket",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.S3.Bucket = ""
			},
			want: "bucket",
		},
		{
			name:   "telegram token without chat id",
			mutate: func(c *Config) { c.Notify.TelegramToken = "tok" },
			want:   "telegram",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret-pg"
	cfg.Redis.Password = "secret-redis"
	cfg.S3.SecretKey = "secret-s3"
	cfg.Server.APIKey = "secret-api"
	cfg.Notify.TelegramToken = "secret-tg"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original untouched.
	assert.Equal(t, "secret-pg", cfg.Postgres.Password)

	// Mutating the redacted copy's slices must not leak back.
	red.Chains[0].Name = "mutated"
	assert.Equal(t, "ethereum", cfg.Chains[0].Name)
}
