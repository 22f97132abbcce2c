package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BASKETBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BASKETBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "BASKETBOT_MODE")
	setStr(&cfg.LogLevel, "BASKETBOT_LOG_LEVEL")
	setStr(&cfg.Log.Format, "BASKETBOT_LOG_FORMAT")
	setStr(&cfg.Log.File, "BASKETBOT_LOG_FILE")

	// ── Database ──
	setStr(&cfg.Database.Driver, "BASKETBOT_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "BASKETBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "BASKETBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BASKETBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BASKETBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "BASKETBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "BASKETBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BASKETBOT_DATABASE_SSL_MODE")
	setStr(&cfg.Database.SQLitePath, "BASKETBOT_DATABASE_SQLITE_PATH")
	setBool(&cfg.Database.RunMigrations, "BASKETBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BASKETBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BASKETBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BASKETBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BASKETBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "BASKETBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BASKETBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BASKETBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BASKETBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BASKETBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BASKETBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "BASKETBOT_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "BASKETBOT_ENGINE_TICK_INTERVAL")
	setInt(&cfg.Engine.Workers, "BASKETBOT_ENGINE_WORKERS")
	setDuration(&cfg.Engine.CallTimeout, "BASKETBOT_ENGINE_CALL_TIMEOUT")

	// ── Pricing ──
	setStr(&cfg.Pricing.Primary, "BASKETBOT_PRICING_PRIMARY")
	setStringSlice(&cfg.Pricing.Fallback, "BASKETBOT_PRICING_FALLBACK")

	// ── 3Commas ──
	setStr(&cfg.ThreeCommas.BaseURL, "BASKETBOT_THREECOMMAS_BASE_URL")
	setStr(&cfg.ThreeCommas.APIKey, "BASKETBOT_THREECOMMAS_API_KEY")
	setStr(&cfg.ThreeCommas.APISecret, "BASKETBOT_THREECOMMAS_API_SECRET")
	setStr(&cfg.ThreeCommas.EncryptedSecretPath, "BASKETBOT_THREECOMMAS_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.ThreeCommas.SecretPassword, "BASKETBOT_THREECOMMAS_SECRET_PASSWORD")

	// ── Price sources ──
	setStr(&cfg.CoinGecko.APIKey, "BASKETBOT_COINGECKO_API_KEY")
	setStr(&cfg.CoinGecko.BaseURL, "BASKETBOT_COINGECKO_BASE_URL")
	setStr(&cfg.Binance.BaseURL, "BASKETBOT_BINANCE_BASE_URL")

	// ── Paper / export ──
	setBool(&cfg.Paper.Enabled, "BASKETBOT_PAPER_ENABLED")
	setBool(&cfg.Export.Enabled, "BASKETBOT_EXPORT_ENABLED")
	setStr(&cfg.Export.Cron, "BASKETBOT_EXPORT_CRON")
	setInt(&cfg.Export.RetentionDays, "BASKETBOT_EXPORT_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BASKETBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BASKETBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BASKETBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BASKETBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BASKETBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BASKETBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BASKETBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BASKETBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BASKETBOT_NOTIFY_EVENTS")
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
