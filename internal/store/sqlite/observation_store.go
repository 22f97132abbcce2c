package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const observationCols = `id, bot_id, asset, price, source, observed_at`

// ObservationStore implements domain.ObservationStore.
type ObservationStore struct {
	db *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertObservationSQL = `INSERT INTO price_observations (bot_id, asset, price, source, observed_at) VALUES (?, ?, ?, ?, ?)`

func insertObservations(ctx context.Context, ex execer, obs []domain.PriceObservation) error {
	for _, o := range obs {
		if _, err := ex.ExecContext(ctx, insertObservationSQL,
			o.BotID, string(o.Asset), o.Price, o.Source, nanos(o.ObservedAt)); err != nil {
			return fmt.Errorf("sqlite: insert observation %d/%s: %w", o.BotID, o.Asset, err)
		}
	}
	return nil
}

// Append inserts observations in one transaction.
func (s *ObservationStore) Append(ctx context.Context, obs []domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append observations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertObservations(ctx, tx, obs); err != nil {
		return err
	}
	return tx.Commit()
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
			FROM price_observations WHERE bot_id = ?
		) WHERE rn <= ? ORDER BY asset, observed_at DESC, id DESC`
	return s.query(ctx, query, botID, depth)
}

// List returns observations of botID filtered by opts, newest first.
func (s *ObservationStore) List(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.PriceObservation, error) {
	query := "SELECT " + observationCols + " FROM price_observations WHERE bot_id = ?"
	args := []any{botID}
	if opts.Asset != "" {
		query += " AND asset = ?"
		args = append(args, string(opts.Asset))
	}
	query, args = appendFilters(query, args, "observed_at", opts)
	return s.query(ctx, query, args...)
}

func (s *ObservationStore) query(ctx context.Context, query string, args ...any) ([]domain.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list observations: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceObservation
	for rows.Next() {
		var (
			o     domain.PriceObservation
			asset string
			at    int64
		)
		if err := rows.Scan(&o.ID, &o.BotID, &asset, &o.Price, &o.Source, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan observation: %w", err)
		}
		o.Asset = domain.Asset(asset)
		o.ObservedAt = fromNanos(at)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list observations rows: %w", err)
	}
	return out, nil
}

// latestPrices returns the newest observed price per asset of botID.
func latestPrices(ctx context.Context, db *sql.Tx, botID int64) (domain.PriceMap, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT asset, price FROM price_observations
		WHERE id IN (SELECT MAX(id) FROM price_observations WHERE bot_id = ? GROUP BY asset)`, botID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest prices for bot %d: %w", botID, err)
	}
	defer rows.Close()

	out := make(domain.PriceMap)
	for rows.Next() {
		var (
			asset string
			price float64
		)
		if err := rows.Scan(&asset, &price); err != nil {
			return nil, fmt.Errorf("sqlite: scan latest price: %w", err)
		}
		out.Set(domain.Asset(asset), price)
	}
	return out, rows.Err()
}

var _ domain.ObservationStore = (*ObservationStore)(nil)
