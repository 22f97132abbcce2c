package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const snapshotCols = `bot_id, asset, initial_price, last_price, units_held, max_units_reached,
	was_ever_held, equivalent_value, created_at, updated_at`

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func scanSnapshot(row pgx.Row) (domain.AssetSnapshot, error) {
	var (
		s     domain.AssetSnapshot
		asset string
	)
	if err := row.Scan(&s.BotID, &asset, &s.InitialPrice, &s.LastPrice, &s.UnitsHeld,
		&s.MaxUnitsReached, &s.WasEverHeld, &s.EquivalentValue, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.AssetSnapshot{}, err
	}
	s.Asset = domain.Asset(asset)
	return s, nil
}

// Get returns the snapshot of asset for botID.
func (s *SnapshotStore) Get(ctx context.Context, botID int64, asset domain.Asset) (domain.AssetSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		"SELECT "+snapshotCols+" FROM asset_snapshots WHERE bot_id = $1 AND asset = $2", botID, string(asset)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AssetSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("postgres: get snapshot %d/%s: %w", botID, asset, err)
	}
	return snap, nil
}

// ListByBot returns the snapshots of botID ordered by asset.
func (s *SnapshotStore) ListByBot(ctx context.Context, botID int64) ([]domain.AssetSnapshot, error) {
	return listSnapshots(ctx, s.pool, botID)
}

func listSnapshots(ctx context.Context, q dbtx, botID int64) ([]domain.AssetSnapshot, error) {
	rows, err := q.Query(ctx, "SELECT "+snapshotCols+" FROM asset_snapshots WHERE bot_id = $1 ORDER BY asset", botID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for bot %d: %w", botID, err)
	}
	defer rows.Close()

	var out []domain.AssetSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// upsertSnapshotSQL keeps initial_price once set and never lowers the
// high-water mark or clears was_ever_held.
const upsertSnapshotSQL = `
	INSERT INTO asset_snapshots (` + snapshotCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($10, NOW()))
	ON CONFLICT (bot_id, asset) DO UPDATE SET
		initial_price     = CASE WHEN asset_snapshots.initial_price > 0
		                         THEN asset_snapshots.initial_price ELSE EXCLUDED.initial_price END,
		last_price        = EXCLUDED.last_price,
		units_held        = EXCLUDED.units_held,
		max_units_reached = GREATEST(asset_snapshots.max_units_reached, EXCLUDED.max_units_reached),
		was_ever_held     = asset_snapshots.was_ever_held OR EXCLUDED.was_ever_held,
		equivalent_value  = EXCLUDED.equivalent_value,
		updated_at        = EXCLUDED.updated_at`

func queueSnapshot(b *pgx.Batch, snap domain.AssetSnapshot) {
	b.Queue(upsertSnapshotSQL,
		snap.BotID, string(snap.Asset), snap.InitialPrice, snap.LastPrice, snap.UnitsHeld,
		snap.MaxUnitsReached, snap.WasEverHeld, snap.EquivalentValue,
		nullTime(snap.CreatedAt), nullTime(snap.UpdatedAt),
	)
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
