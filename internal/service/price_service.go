// Package service coordinates stores, caches, price sources and gateways
// behind the operations the API and scheduler use.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// PriceRecorder receives price fetch metrics.
type PriceRecorder interface {
	PriceFetch(source string, ok bool, d time.Duration)
}

// PriceConfig tunes a PriceService.
type PriceConfig struct {
	// CallTimeout bounds each source call.
	CallTimeout time.Duration
	// CacheMaxAge is how old a cached price may be when used as the last
	// resort. Zero disables cache reads.
	CacheMaxAge time.Duration
}

// PriceService fetches prices through an ordered chain of sources. Symbols a
// source could not price are asked of the next one, and the cache fills what
// no source answered. Fresh prices are written to the cache and published.
type PriceService struct {
	sources []domain.PriceSource
	cache   domain.PriceCache
	bus     domain.SignalBus
	metrics PriceRecorder
	cfg     PriceConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewPriceService creates a PriceService. cache, bus and metrics may be nil.
func NewPriceService(
	sources []domain.PriceSource,
	cache domain.PriceCache,
	bus domain.SignalBus,
	metrics PriceRecorder,
	cfg PriceConfig,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		sources: sources,
		cache:   cache,
		bus:     bus,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "price_service")),
		now:     time.Now,
	}
}

// SourceNames lists the chain in order.
func (s *PriceService) SourceNames() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return names
}

// Fetch returns prices for symbols and the "+"-joined names of the sources
// that served them. It returns domain.ErrNoPrices when nothing is priced.
func (s *PriceService) Fetch(ctx context.Context, symbols []domain.Asset) (domain.PriceMap, string, error) {
	q, err := s.Quote(ctx, symbols)
	if err != nil {
		return nil, "", err
	}
	return q.Prices, q.Source(), nil
}

// Quote fetches symbols through the chain and keeps the live answers apart
// from the cached prices that filled the gaps.
func (s *PriceService) Quote(ctx context.Context, symbols []domain.Asset) (domain.PriceQuote, error) {
	out := make(domain.PriceMap, len(symbols))
	fresh := make(domain.PriceMap, len(symbols))
	var used []string
	var errs []error

	missing := symbols
	for _, src := range s.sources {
		if len(missing) == 0 {
			break
		}
		got, err := s.call(ctx, src, missing)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			if ctx.Err() != nil {
				return domain.PriceQuote{}, ctx.Err()
			}
			continue
		}
		before := len(out)
		for _, a := range missing {
			if p, ok := got.Get(a); ok {
				out.Set(a, p)
				fresh.Set(a, p)
			}
		}
		if len(out) > before {
			used = append(used, src.Name())
		}
		missing = out.Missing(symbols)
	}

	if len(missing) > 0 && s.cache != nil && s.cfg.CacheMaxAge > 0 {
		cached, err := s.cache.GetPrices(ctx, missing, s.cfg.CacheMaxAge)
		if err != nil {
			s.logger.WarnContext(ctx, "cache read failed", slog.String("error", err.Error()))
		} else if len(cached) > 0 {
			out.Merge(cached)
		}
	}

	if len(out) == 0 {
		if len(errs) > 0 {
			return domain.PriceQuote{}, fmt.Errorf("price_service: %w: %w", domain.ErrNoPrices, errors.Join(errs...))
		}
		return domain.PriceQuote{}, fmt.Errorf("price_service: %w", domain.ErrNoPrices)
	}

	q := domain.PriceQuote{Prices: out, Live: fresh, Sources: used}
	s.store(ctx, fresh, q.LiveSource())
	return q, nil
}

func (s *PriceService) call(ctx context.Context, src domain.PriceSource, symbols []domain.Asset) (domain.PriceMap, error) {
	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	got, err := src.GetPrices(callCtx, symbols)
	if s.metrics != nil {
		s.metrics.PriceFetch(src.Name(), err == nil && len(got) > 0, time.Since(start))
	}
	if err != nil {
		s.logger.WarnContext(ctx, "price source failed",
			slog.String("source", src.Name()),
			slog.Int("symbols", len(symbols)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if len(got) == 0 {
		return nil, domain.ErrNoPrices
	}
	return got, nil
}

func (s *PriceService) store(ctx context.Context, fresh domain.PriceMap, source string) {
	if len(fresh) == 0 {
		return
	}
	at := s.now()
	if s.cache != nil {
		if err := s.cache.SetPrices(ctx, fresh, at); err != nil {
			s.logger.WarnContext(ctx, "cache write failed", slog.String("error", err.Error()))
		}
	}
	if s.bus == nil {
		return
	}
	prices := make(map[string]float64, len(fresh))
	for a, p := range fresh {
		prices[string(a)] = p
	}
	payload, err := json.Marshal(domain.PriceEvent{Source: source, Prices: prices, At: at})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
		s.logger.WarnContext(ctx, "publish prices failed", slog.String("error", err.Error()))
	}
}
