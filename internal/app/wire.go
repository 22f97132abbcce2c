package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/basketbot/internal/blob/s3"
	"github.com/alanyoungcy/basketbot/internal/cache/memory"
	"github.com/alanyoungcy/basketbot/internal/cache/redis"
	"github.com/alanyoungcy/basketbot/internal/config"
	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/executor"
	"github.com/alanyoungcy/basketbot/internal/metrics"
	"github.com/alanyoungcy/basketbot/internal/notify"
	"github.com/alanyoungcy/basketbot/internal/platform/binance"
	"github.com/alanyoungcy/basketbot/internal/platform/coingecko"
	"github.com/alanyoungcy/basketbot/internal/platform/threecommas"
	"github.com/alanyoungcy/basketbot/internal/rebalance"
	"github.com/alanyoungcy/basketbot/internal/service"
	"github.com/alanyoungcy/basketbot/internal/store/postgres"
	"github.com/alanyoungcy/basketbot/internal/store/sqlite"
)

// Dependencies bundles everything the modes run on. It is built by Wire and
// released by the cleanup function Wire returns.
type Dependencies struct {
	Store domain.Store

	// Redis is nil when [redis] is disabled; the fields below then hold
	// process-local implementations.
	Redis       *redis.Client
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	Prices   *service.PriceService
	Gateway  domain.TradeGateway
	Engine   *rebalance.Engine
	Bots     *service.BotService
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// S3 and Exporter are nil unless the mode exports.
	S3       *s3blob.Client
	Exporter domain.Exporter
}

// needsS3 reports whether mode writes exports.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "export" || (cfg.Mode == "run" && cfg.Export.Enabled)
}

// Wire builds the dependencies for cfg.Mode. On error everything built so
// far is released.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Persistence ---
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)
	deps.Store = store

	// --- Redis, or the in-process fallbacks ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		deps.PriceCache = redis.NewPriceCache(rc, cfg.Pricing.CacheTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
	} else {
		logger.InfoContext(ctx, "redis disabled, using in-process cache, bus and locks")
		deps.PriceCache = memory.NewPriceCache()
		deps.SignalBus = memory.NewSignalBus()
		deps.LockManager = rebalance.NewLocalLocks()
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- Exchange and price sources ---
	var tc *threecommas.Client
	threeCommas := func() (*threecommas.Client, error) {
		if tc != nil {
			return tc, nil
		}
		secret, err := cfg.ThreeCommasSecret()
		if err != nil {
			return nil, fmt.Errorf("wire: 3commas secret: %w", err)
		}
		tc = threecommas.NewClient(threecommas.Config{
			BaseURL:     cfg.ThreeCommas.BaseURL,
			Key:         cfg.ThreeCommas.APIKey,
			Secret:      secret,
			Quote:       cfg.ThreeCommas.Quote,
			MarketCode:  cfg.ThreeCommas.MarketCode,
			Timeout:     cfg.Engine.CallTimeout.Duration,
			MinInterval: cfg.ThreeCommas.MinInterval.Duration,
			Retries:     cfg.Engine.Retries,
			Backoff:     cfg.ThreeCommas.Backoff.Duration,
		})
		return tc, nil
	}

	var sources []domain.PriceSource
	for _, name := range cfg.PriceSources() {
		switch name {
		case "3commas":
			c, err := threeCommas()
			if err != nil {
				return fail(err)
			}
			sources = append(sources, threecommas.NewPriceSource(c))
		case "coingecko":
			sources = append(sources, coingecko.NewPriceSource(coingecko.Config{
				BaseURL:     cfg.CoinGecko.BaseURL,
				APIKey:      cfg.CoinGecko.APIKey,
				MinInterval: cfg.CoinGecko.MinInterval.Duration,
				Timeout:     cfg.Engine.CallTimeout.Duration,
			}))
		case "binance":
			sources = append(sources, binance.NewPriceSource(binance.Config{
				BaseURL: cfg.Binance.BaseURL,
				Quote:   cfg.Binance.Quote,
			}))
		default:
			return fail(fmt.Errorf("wire: unknown price source %q", name))
		}
	}
	deps.Prices = service.NewPriceService(sources, deps.PriceCache, deps.SignalBus, deps.Metrics, service.PriceConfig{
		CallTimeout: cfg.Engine.CallTimeout.Duration,
		CacheMaxAge: cfg.Pricing.CacheMaxAge.Duration,
	}, logger)

	var gateway domain.TradeGateway
	if cfg.Paper.Enabled {
		gateway = executor.NewPaperGateway(deps.PriceCache, cfg.Paper.FillDelay.Duration, logger)
	} else {
		c, err := threeCommas()
		if err != nil {
			return fail(err)
		}
		gateway = threecommas.NewGateway(c)
	}
	deps.Gateway = executor.NewDedupGateway(gateway, cfg.Engine.DedupWindow.Duration)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine and services ---
	deps.Engine = rebalance.NewEngine(rebalance.Deps{
		State:    store.State(),
		Prices:   deps.Prices,
		Gateway:  deps.Gateway,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}, rebalance.Config{LockTTL: cfg.Engine.LockTTL.Duration}, logger)
	deps.Bots = service.NewBotService(store, deps.Gateway, logger)

	// --- S3 export ---
	if needsS3(cfg) {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = sc
		deps.Exporter = s3blob.NewExporter(store,
			s3blob.NewWriter(sc, int64(cfg.S3.PartSizeMB)<<20),
			s3blob.NewReader(sc),
			s3blob.ExporterConfig{
				Prefix:    cfg.Export.Prefix,
				Retention: time.Duration(cfg.Export.RetentionDays) * 24 * time.Hour,
			}, logger)
	}

	return deps, cleanup, nil
}

// openStore connects the configured backend and applies migrations when
// enabled.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (domain.Store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.DSN,
			Host:     cfg.Host,
			Port:     cfg.Port,
			Database: cfg.Database,
			User:     cfg.User,
			Password: cfg.Password,
			SSLMode:  cfg.SSLMode,
			MaxConns: cfg.PoolMaxConns,
			MinConns: cfg.PoolMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: postgres: %w", err)
		}
		if cfg.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		return pg, nil
	case "sqlite":
		lite, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		// The sqlite schema is always applied; it is idempotent.
		if err := lite.RunMigrations(ctx); err != nil {
			lite.Close()
			return nil, fmt.Errorf("wire: sqlite migrations: %w", err)
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("wire: unknown database driver %q", cfg.Driver)
	}
}
