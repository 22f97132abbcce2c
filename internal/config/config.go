// Package config defines the basketbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by BASKETBOT_* environment variables.
type Config struct {
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	Log         LogConfig         `toml:"log"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Engine      EngineConfig      `toml:"engine"`
	Pricing     PricingConfig     `toml:"pricing"`
	ThreeCommas ThreeCommasConfig `toml:"threecommas"`
	CoinGecko   CoinGeckoConfig   `toml:"coingecko"`
	Binance     BinanceConfig     `toml:"binance"`
	Paper       PaperConfig       `toml:"paper"`
	Export      ExportConfig      `toml:"export"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Bots        []BotConfig       `toml:"bots"`
}

// LogConfig controls log format and the optional rotated log file.
type LogConfig struct {
	Format     string `toml:"format"` // json or text
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver        string `toml:"driver"` // postgres or sqlite
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	SQLitePath    string `toml:"sqlite_path"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it locks are process-local and the price cache lives in memory.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
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
	PartSizeMB     int    `toml:"part_size_mb"`
}

// EngineConfig tunes the scheduler and the rebalance engine.
type EngineConfig struct {
	TickInterval duration `toml:"tick_interval"`
	Workers      int      `toml:"workers"`
	CycleTimeout duration `toml:"cycle_timeout"`
	// CallTimeout bounds each external call (price fetch, trade status).
	CallTimeout duration `toml:"call_timeout"`
	Retries     int      `toml:"retries"`
	LockTTL     duration `toml:"lock_ttl"`
	// DedupWindow rejects an identical swap submission within the window.
	DedupWindow duration `toml:"dedup_window"`
}

// PricingConfig orders the price sources.
type PricingConfig struct {
	Primary  string   `toml:"primary"`
	Fallback []string `toml:"fallback"`
	CacheTTL duration `toml:"cache_ttl"`
	// CacheMaxAge is the oldest cached price used when every source failed
	// for a symbol.
	CacheMaxAge duration `toml:"cache_max_age"`
}

// ThreeCommasConfig holds 3Commas API credentials and client tuning.
type ThreeCommasConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Quote               string   `toml:"quote"`
	MarketCode          string   `toml:"market_code"`
	MinInterval         duration `toml:"min_interval"`
	Backoff             duration `toml:"backoff"`
}

// CoinGeckoConfig configures the CoinGecko price source.
type CoinGeckoConfig struct {
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	MinInterval duration `toml:"min_interval"`
}

// BinanceConfig configures the Binance ticker price source.
type BinanceConfig struct {
	BaseURL string `toml:"base_url"`
	Quote   string `toml:"quote"`
}

// PaperConfig switches trade execution to the simulated gateway.
type PaperConfig struct {
	Enabled   bool     `toml:"enabled"`
	FillDelay duration `toml:"fill_delay"`
}

// ExportConfig schedules the daily CSV export.
type ExportConfig struct {
	Enabled       bool     `toml:"enabled"`
	Cron          string   `toml:"cron"`
	Prefix        string   `toml:"prefix"`
	RetentionDays int      `toml:"retention_days"`
	Timeout       duration `toml:"timeout"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// BotConfig is a [[bots]] entry seeded into the store at startup.
type BotConfig struct {
	Name                string   `toml:"name"`
	Enabled             *bool    `toml:"enabled"`
	AccountID           string   `toml:"account_id"`
	Coins               []string `toml:"coins"`
	Threshold           float64  `toml:"threshold"`
	CheckInterval       duration `toml:"check_interval"`
	InitialCoin         string   `toml:"initial_coin"`
	ReferenceCoin       string   `toml:"reference_coin"`
	ExternalReference   bool     `toml:"external_reference"`
	GlobalLossThreshold *float64 `toml:"global_loss_threshold"`
	ReentryBuffer       *float64 `toml:"reentry_buffer"`
	FeeRate             float64  `toml:"fee_rate"`
	InitialUnits        float64  `toml:"initial_units"`
}

// Bot converts the entry to a domain bot with defaults applied. Enabled
// defaults to true.
func (b BotConfig) Bot() domain.Bot {
	bot := domain.Bot{
		Name:              b.Name,
		Enabled:           b.Enabled == nil || *b.Enabled,
		AccountID:         b.AccountID,
		Coins:             domain.Assets(b.Coins...),
		Threshold:         b.Threshold,
		CheckInterval:     b.CheckInterval.Duration,
		InitialCoin:       domain.Asset(b.InitialCoin),
		ReferenceCoin:     domain.Asset(b.ReferenceCoin),
		ExternalReference: b.ExternalReference,
		FeeRate:           b.FeeRate,
		InitialUnits:      b.InitialUnits,
	}
	bot.SetProtection(b.GlobalLossThreshold, b.ReentryBuffer)
	bot.ApplyDefaults()
	return bot
}

// SeedBots converts every [[bots]] entry.
func (c *Config) SeedBots() []domain.Bot {
	out := make([]domain.Bot, 0, len(c.Bots))
	for _, b := range c.Bots {
		out = append(out, b.Bot())
	}
	return out
}

// PriceSources returns the primary source followed by the fallbacks, without
// duplicates.
func (c *Config) PriceSources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append([]string{c.Pricing.Primary}, c.Pricing.Fallback...) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
func Defaults() Config {
	return Config{
		Mode:     "run",
		LogLevel: "info",
		Log: LogConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Host:          "localhost",
			Port:          5432,
			Database:      "basketbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			SQLitePath:    "basketbot.db",
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "basketbot",
		},
		S3: S3Config{
			Region:     "us-east-1",
			Bucket:     "basketbot-exports",
			UseSSL:     true,
			PartSizeMB: 8,
		},
		Engine: EngineConfig{
			TickInterval: duration{30 * time.Second},
			Workers:      4,
			CycleTimeout: duration{time.Minute},
			CallTimeout:  duration{10 * time.Second},
			Retries:      3,
			LockTTL:      duration{2 * time.Minute},
			DedupWindow:  duration{time.Minute},
		},
		Pricing: PricingConfig{
			Primary:     "3commas",
			Fallback:    []string{"coingecko"},
			CacheTTL:    duration{10 * time.Minute},
			CacheMaxAge: duration{5 * time.Minute},
		},
		ThreeCommas: ThreeCommasConfig{
			BaseURL:     "https://api.3commas.io",
			Quote:       "USDT",
			MarketCode:  "binance",
			MinInterval: duration{200 * time.Millisecond},
			Backoff:     duration{500 * time.Millisecond},
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL:     "https://api.coingecko.com/api/v3",
			MinInterval: duration{1500 * time.Millisecond},
		},
		Binance: BinanceConfig{
			Quote: "USDT",
		},
		Paper: PaperConfig{
			FillDelay: duration{5 * time.Second},
		},
		Export: ExportConfig{
			Cron:          "15 0 * * *",
			Prefix:        "exports",
			RetentionDays: 365,
			Timeout:       duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"swap_created", "swap_completed", "swap_failed", "error"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"api":    true,
	"once":   true,
	"status": true,
	"export": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"3commas":   true,
	"coingecko": true,
	"binance":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Individual [[bots]] entries
// are not validated here; an invalid bot is rejected at seeding and never
// scheduled.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, api, once, status, export)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if f := c.Log.Format; f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: format must be json or text, got %q", f))
	}

	// Database
	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be in [0, pool_max_conns]")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, "database: sqlite_path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: driver must be postgres or sqlite, got %q", c.Database.Driver))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// Engine
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be positive")
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, "engine: workers must be >= 1")
	}
	if c.Engine.CallTimeout.Duration <= 0 {
		errs = append(errs, "engine: call_timeout must be positive")
	}
	if c.Engine.Retries < 0 {
		errs = append(errs, "engine: retries must be >= 0")
	}

	// Pricing
	sources := c.PriceSources()
	if len(sources) == 0 {
		errs = append(errs, "pricing: primary must be set")
	}
	usesThreeCommas := false
	for _, s := range sources {
		if !validSources[s] {
			errs = append(errs, fmt.Sprintf("pricing: unknown source %q (valid: 3commas, coingecko, binance)", s))
		}
		if s == "3commas" {
			usesThreeCommas = true
		}
	}

	// 3Commas credentials are needed to read prices from it and, outside
	// paper mode, to trade.
	trades := !c.Paper.Enabled && (mode == "run" || mode == "once" || mode == "api")
	if usesThreeCommas || trades {
		if c.ThreeCommas.APIKey == "" {
			errs = append(errs, "threecommas: api_key is required")
		}
		if c.ThreeCommas.APISecret == "" && c.ThreeCommas.EncryptedSecretPath == "" {
			errs = append(errs, "threecommas: api_secret or encrypted_secret_path is required")
		}
	}
	if c.ThreeCommas.EncryptedSecretPath != "" && c.ThreeCommas.SecretPassword == "" {
		errs = append(errs, "threecommas: secret_password is required when encrypted_secret_path is set")
	}

	// Export
	if c.Export.Enabled || mode == "export" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Export.Enabled {
		if _, err := cron.ParseStandard(c.Export.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("export: invalid cron %q: %v", c.Export.Cron, err))
		}
	}
	if c.Export.RetentionDays < 0 {
		errs = append(errs, "export: retention_days must be >= 0")
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

	seen := make(map[string]bool, len(c.Bots))
	for i, b := range c.Bots {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			errs = append(errs, fmt.Sprintf("bots[%d]: name must not be empty", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("bots[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
