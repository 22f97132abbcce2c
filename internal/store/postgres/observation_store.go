package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const observationCols = `id, bot_id, asset, price, source, observed_at`

// ObservationStore implements domain.ObservationStore using PostgreSQL.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates a new ObservationStore backed by the given connection pool.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

const insertObservationSQL = `
	INSERT INTO price_observations (bot_id, asset, price, source, observed_at)
	VALUES ($1, $2, $3, $4, $5)`

func queueObservations(b *pgx.Batch, obs []domain.PriceObservation) {
	for _, o := range obs {
		b.Queue(insertObservationSQL, o.BotID, string(o.Asset), o.Price, o.Source, o.ObservedAt)
	}
}

// Append inserts observations in a single batch.
func (s *ObservationStore) Append(ctx context.Context, obs []domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queueObservations(batch, obs)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range obs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert observation batch item %d: %w", i, err)
		}
	}
	return nil
}

// Recent returns up to depth newest observations per asset of botID.
func (s *ObservationStore) Recent(ctx context.Context, botID int64, depth int) ([]domain.PriceObservation, error) {
	if depth <= 0 {
		depth = 1
	}
	const query = `
		SELECT ` + observationCols + ` FROM (
			SELECT ` + observationCols + `,
				ROW_NUMBER() OVER (PARTITION BY asset ORDER BY observed_at DESC, id DESC) AS rn
			FROM price_observations WHERE bot_id = $1
		) ranked WHERE rn <= $2 ORDER BY asset, observed_at DESC, id DESC`
	return s.query(ctx, query, botID, depth)
}

// List returns observations of botID filtered by opts, newest first.
func (s *ObservationStore) List(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.PriceObservation, error) {
	query := "SELECT " + observationCols + " FROM price_observations WHERE bot_id = $1"
	args := []any{botID}
	if opts.Asset != "" {
		args = append(args, string(opts.Asset))
		query += fmt.Sprintf(" AND asset = $%d", len(args))
	}
	query, args = appendFilters(query, args, "observed_at", opts)
	return s.query(ctx, query, args...)
}

func (s *ObservationStore) query(ctx context.Context, query string, args ...any) ([]domain.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list observations: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceObservation
	for rows.Next() {
		var (
			o     domain.PriceObservation
			asset string
		)
		if err := rows.Scan(&o.ID, &o.BotID, &asset, &o.Price, &o.Source, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan observation: %w", err)
		}
		o.Asset = domain.Asset(asset)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list observations rows: %w", err)
	}
	return out, nil
}

func latestPrices(ctx context.Context, q dbtx, botID int64) (domain.PriceMap, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT ON (asset) asset, price
		FROM price_observations
		WHERE bot_id = $1
		ORDER BY asset, observed_at DESC, id DESC`, botID)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest prices for bot %d: %w", botID, err)
	}
	defer rows.Close()

	out := make(domain.PriceMap)
	for rows.Next() {
		var (
			asset string
			price float64
		)
		if err := rows.Scan(&asset, &price); err != nil {
			return nil, fmt.Errorf("postgres: scan latest price: %w", err)
		}
		out.Set(domain.Asset(asset), price)
	}
	return out, rows.Err()
}

// appendFilters adds the time window and paging of opts to query, numbering
// placeholders after the existing args.
func appendFilters(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	query += fmt.Sprintf(" ORDER BY %s DESC, id DESC", col)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.ObservationStore = (*ObservationStore)(nil)
