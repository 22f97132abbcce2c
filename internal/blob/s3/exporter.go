package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const csvContentType = "text/csv"

var _ domain.Exporter = (*Exporter)(nil)

// ObjectStore lists and prunes previously exported objects.
type ObjectStore interface {
	domain.BlobReader
	domain.BlobDeleter
}

// ExporterConfig configures an Exporter.
type ExporterConfig struct {
	// Prefix is the key prefix of every export object. Defaults to "exports".
	Prefix string
	// Retention removes day folders older than this after each export.
	// Zero keeps everything.
	Retention time.Duration
}

// Exporter writes one CSV of observations and one CSV of swaps per bot and
// UTC day, under <prefix>/YYYY/MM/DD/bot-<id>-{observations,swaps}.csv.
type Exporter struct {
	store   domain.Store
	writer  domain.BlobWriter
	objects ObjectStore
	cfg     ExporterConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewExporter creates an Exporter. objects may be nil, which disables
// retention pruning.
func NewExporter(store domain.Store, writer domain.BlobWriter, objects ObjectStore, cfg ExporterConfig, logger *slog.Logger) *Exporter {
	if cfg.Prefix == "" {
		cfg.Prefix = "exports"
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Exporter{
		store:   store,
		writer:  writer,
		objects: objects,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "exporter")),
	}
}

// ExportDay exports every bot's rows recorded on day's UTC date. Bots with
// nothing recorded that day produce no objects.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) (domain.ExportResult, error) {
	var res domain.ExportResult

	start := dayStart(day)
	until := start.Add(24*time.Hour - time.Nanosecond)
	opts := domain.ListOpts{Since: &start, Until: &until}

	bots, err := e.store.Bots().List(ctx)
	if err != nil {
		return res, fmt.Errorf("s3blob: export %s: list bots: %w", start.Format(time.DateOnly), err)
	}

	for _, bot := range bots {
		obs, err := e.store.Observations().List(ctx, bot.ID, opts)
		if err != nil {
			return res, fmt.Errorf("s3blob: export bot %d observations: %w", bot.ID, err)
		}
		swaps, err := e.store.Swaps().ListByBot(ctx, bot.ID, opts)
		if err != nil {
			return res, fmt.Errorf("s3blob: export bot %d swaps: %w", bot.ID, err)
		}
		if len(obs) == 0 && len(swaps) == 0 {
			continue
		}
		res.Bots++

		if len(obs) > 0 {
			// Stores return newest first; files read oldest first.
			slices.Reverse(obs)
			key := e.objectKey(start, bot.ID, "observations")
			if err := e.put(ctx, key, observationRows(bot, obs)); err != nil {
				return res, err
			}
			res.Observations += len(obs)
			res.Objects = append(res.Objects, key)
		}
		if len(swaps) > 0 {
			slices.Reverse(swaps)
			key := e.objectKey(start, bot.ID, "swaps")
			if err := e.put(ctx, key, swapRows(bot, swaps)); err != nil {
				return res, err
			}
			res.Swaps += len(swaps)
			res.Objects = append(res.Objects, key)
		}
	}

	if e.objects != nil && e.cfg.Retention > 0 {
		pruned, err := e.prune(ctx)
		res.Pruned = pruned
		if err != nil {
			return res, err
		}
	}

	e.logger.Info("export finished",
		slog.String("day", start.Format(time.DateOnly)),
		slog.Int("bots", res.Bots),
		slog.Int("observations", res.Observations),
		slog.Int("swaps", res.Swaps),
		slog.Int("pruned", res.Pruned),
	)
	return res, nil
}

func (e *Exporter) put(ctx context.Context, key string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", key, err)
	}
	if err := e.writer.Put(ctx, key, &buf, csvContentType); err != nil {
		return err
	}
	return nil
}

// prune deletes objects whose day folder is older than the retention window.
func (e *Exporter) prune(ctx context.Context) (int, error) {
	cutoff := dayStart(e.now().Add(-e.cfg.Retention))

	infos, err := e.objects.List(ctx, e.cfg.Prefix+"/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune: %w", err)
	}

	pruned := 0
	for _, info := range infos {
		day, ok := e.keyDay(info.Path)
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := e.objects.Delete(ctx, info.Path); err != nil {
			return pruned, fmt.Errorf("s3blob: prune: %w", err)
		}
		pruned++
	}
	return pruned, nil
}

func (e *Exporter) objectKey(day time.Time, botID int64, kind string) string {
	return fmt.Sprintf("%s/%s/bot-%d-%s.csv", e.cfg.Prefix, day.Format("2006/01/02"), botID, kind)
}

// keyDay extracts the YYYY/MM/DD folder of an export key.
func (e *Exporter) keyDay(key string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(key, e.cfg.Prefix+"/")
	if !ok || len(rest) < len("2006/01/02") {
		return time.Time{}, false
	}
	day, err := time.Parse("2006/01/02", rest[:len("2006/01/02")])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func observationRows(bot domain.Bot, obs []domain.PriceObservation) [][]string {
	rows := make([][]string, 0, len(obs)+1)
	rows = append(rows, []string{"id", "bot_id", "bot_name", "asset", "price", "source", "observed_at"})
	for _, o := range obs {
		rows = append(rows, []string{
			strconv.FormatInt(o.ID, 10),
			strconv.FormatInt(bot.ID, 10),
			bot.Name,
			string(o.Asset),
			formatFloat(o.Price),
			o.Source,
			formatTime(o.ObservedAt),
		})
	}
	return rows
}

func swapRows(bot domain.Bot, swaps []domain.SwapEvent) [][]string {
	rows := make([][]string, 0, len(swaps)+1)
	rows = append(rows, []string{
		"id", "bot_id", "bot_name", "trade_id", "from", "to", "change",
		"quantity", "estimated_units", "from_price", "to_price",
		"filled_price", "status", "created_at", "settled_at",
	})
	for _, s := range swaps {
		filled := ""
		if s.FilledPrice != nil {
			filled = formatFloat(*s.FilledPrice)
		}
		settled := ""
		if s.SettledAt != nil {
			settled = formatTime(*s.SettledAt)
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			strconv.FormatInt(bot.ID, 10),
			bot.Name,
			s.TradeID,
			string(s.From),
			string(s.To),
			formatFloat(s.Change),
			formatFloat(s.Quantity),
			formatFloat(s.EstimatedUnits),
			formatFloat(s.FromPrice),
			formatFloat(s.ToPrice),
			filled,
			string(s.Status),
			formatTime(s.CreatedAt),
			settled,
		})
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
