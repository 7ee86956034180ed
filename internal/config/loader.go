package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXGUARD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.Window, "DEXGUARD_ENGINE_WINDOW")
	setFloat64(&cfg.Engine.Alpha, "DEXGUARD_ENGINE_ALPHA")
	setBool(&cfg.Engine.RefreshSustained, "DEXGUARD_ENGINE_REFRESH_SUSTAINED")
	setDuration(&cfg.Engine.IdleTTL, "DEXGUARD_ENGINE_IDLE_TTL")

	// ── Budget ──
	setInt(&cfg.Budget.Capacity, "DEXGUARD_BUDGET_CAPACITY")
	setDuration(&cfg.Budget.RefillInterval, "DEXGUARD_BUDGET_REFILL_INTERVAL")
	setFloat64(&cfg.Budget.WarnFraction, "DEXGUARD_BUDGET_WARN_FRACTION")

	// ── Executor ──
	setBool(&cfg.Executor.Enabled, "DEXGUARD_EXECUTOR_ENABLED")
	setBool(&cfg.Executor.DryRun, "DEXGUARD_EXECUTOR_DRY_RUN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXGUARD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXGUARD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEXGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXGUARD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEXGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXGUARD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DEXGUARD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DEXGUARD_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DEXGUARD_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXGUARD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXGUARD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXGUARD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEXGUARD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEXGUARD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXGUARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXGUARD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXGUARD_MODE")
	setStr(&cfg.LogLevel, "DEXGUARD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
