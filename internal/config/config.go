// Package config defines the top-level configuration for the defense engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXGUARD_* environment variables.
type Config struct {
	Engine    EngineConfig     `toml:"engine"`
	Budget    BudgetConfig     `toml:"budget"`
	Chains    []ChainConfig    `toml:"chains"`
	Detectors []DetectorConfig `toml:"detectors"`
	Executor  ExecutorConfig   `toml:"executor"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Archive   ArchiveConfig    `toml:"archive"`
	Server    ServerConfig     `toml:"server"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// EngineConfig holds the scoring and tier parameters. Zero values fall back
// to the engine package defaults.
type EngineConfig struct {
	Window           duration `toml:"window"`
	Alpha            float64  `toml:"alpha"`
	ElevatedUp       float64  `toml:"elevated_up"`
	ElevatedDown     float64  `toml:"elevated_down"`
	CriticalUp       float64  `toml:"critical_up"`
	CriticalDown     float64  `toml:"critical_down"`
	RefreshSustained bool     `toml:"refresh_sustained"`
	IdleTTL          duration `toml:"idle_ttl"`
}

// BudgetConfig holds the outbound RPC token-bucket parameters.
type BudgetConfig struct {
	Capacity       int      `toml:"capacity"`
	RefillInterval duration `toml:"refill_interval"`
	WarnFraction   float64  `toml:"warn_fraction"`
}

// ChainConfig describes one monitored chain: the event feed endpoint and an
// optional JSON-RPC endpoint for the gas tracker.
type ChainConfig struct {
	Name   string `toml:"name"`
	WSURL  string `toml:"ws_url"`
	RPCURL string `toml:"rpc_url"`
	// Pools are the pool keys to watch on this chain
	// (chain:PAIR/QUOTE:address).
	Pools []string `toml:"pools"`
}

// DetectorConfig enables one detector with its tuning parameters.
type DetectorConfig struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

// ExecutorConfig holds decision-application parameters.
type ExecutorConfig struct {
	Enabled  bool     `toml:"enabled"`
	DryRun   bool     `toml:"dry_run"`
	DedupTTL duration `toml:"dedup_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Window:           duration{2 * time.Minute},
			Alpha:            0.35,
			ElevatedUp:       40,
			ElevatedDown:     25,
			CriticalUp:       75,
			CriticalDown:     55,
			RefreshSustained: true,
			IdleTTL:          duration{30 * time.Minute},
		},
		Budget: BudgetConfig{
			Capacity:       120,
			RefillInterval: duration{500 * time.Millisecond},
			WarnFraction:   0.8,
		},
		Chains: []ChainConfig{
			{
				Name:  "ethereum",
				WSURL: "ws://localhost:8546/feed",
				Pools: []string{"ethereum:WETH/USDC:0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"},
			},
		},
		Detectors: []DetectorConfig{
			{Name: "large_swap"},
			{Name: "flash_loan"},
			{Name: "mempool_cluster"},
			{Name: "sandwich"},
			{Name: "gas_tracker"},
			{Name: "oracle_checker"},
			{Name: "cross_chain"},
		},
		Executor: ExecutorConfig{
			Enabled:  true,
			DryRun:   true,
			DedupTTL: duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "dexguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexguard-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"promotion", "critical"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"serve":   true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDetectors enumerates the detector names the registry knows how to
// build.
var validDetectors = map[string]bool{
	"large_swap":      true,
	"flash_loan":      true,
	"mempool_cluster": true,
	"sandwich":        true,
	"gas_tracker":     true,
	"oracle_checker":  true,
	"cross_chain":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, serve, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.Alpha < 0 || c.Engine.Alpha > 1 {
		errs = append(errs, fmt.Sprintf("engine: alpha must be in [0, 1], got %g", c.Engine.Alpha))
	}
	if c.Engine.Window.Duration < 0 {
		errs = append(errs, "engine: window must not be negative")
	}
	if c.Engine.ElevatedDown >= c.Engine.ElevatedUp {
		errs = append(errs, "engine: elevated_down must be below elevated_up")
	}
	if c.Engine.CriticalDown >= c.Engine.CriticalUp {
		errs = append(errs, "engine: critical_down must be below critical_up")
	}
	if c.Engine.ElevatedUp >= c.Engine.CriticalUp {
		errs = append(errs, "engine: elevated_up must be below critical_up")
	}

	// Budget
	if c.Budget.Capacity < 1 {
		errs = append(errs, "budget: capacity must be >= 1")
	}
	if c.Budget.RefillInterval.Duration <= 0 {
		errs = append(errs, "budget: refill_interval must be > 0")
	}
	if c.Budget.WarnFraction < 0 || c.Budget.WarnFraction > 1 {
		errs = append(errs, fmt.Sprintf("budget: warn_fraction must be in [0, 1], got %g", c.Budget.WarnFraction))
	}

	// Chains — monitoring modes need at least one feed.
	needsFeed := c.Mode == "monitor" || c.Mode == "full"
	if needsFeed && len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured for mode "+c.Mode)
	}
	seen := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("chains[%d]: name must not be empty", i))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("chains[%d]: duplicate chain %q", i, ch.Name))
		}
		seen[ch.Name] = true
		if needsFeed && ch.WSURL == "" {
			errs = append(errs, fmt.Sprintf("chains[%d]: ws_url must not be empty for chain %q", i, ch.Name))
		}
	}

	// Detectors
	for i, d := range c.Detectors {
		if !validDetectors[d.Name] {
			errs = append(errs, fmt.Sprintf("detectors[%d]: unknown detector %q", i, d.Name))
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — required only when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify — token and chat ID must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Chain returns the configuration for the named chain, or false when the
// chain is not configured.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
