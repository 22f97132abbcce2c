package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const snapshotCols = `bot_id, asset, initial_price, last_price, units_held, max_units_reached,
	was_ever_held, equivalent_value, created_at, updated_at`

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	db *sql.DB
}

func scanSnapshot(row scanner) (domain.AssetSnapshot, error) {
	var (
		s                domain.AssetSnapshot
		asset            string
		created, updated int64
	)
	if err := row.Scan(&s.BotID, &asset, &s.InitialPrice, &s.LastPrice, &s.UnitsHeld,
		&s.MaxUnitsReached, &s.WasEverHeld, &s.EquivalentValue, &created, &updated); err != nil {
		return domain.AssetSnapshot{}, err
	}
	s.Asset = domain.Asset(asset)
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	return s, nil
}

// Get returns the snapshot of asset for botID.
func (s *SnapshotStore) Get(ctx context.Context, botID int64, asset domain.Asset) (domain.AssetSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		"SELECT "+snapshotCols+" FROM asset_snapshots WHERE bot_id = ? AND asset = ?", botID, string(asset)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssetSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AssetSnapshot{}, fmt.Errorf("sqlite: get snapshot %d/%s: %w", botID, asset, err)
	}
	return snap, nil
}

// ListByBot returns every snapshot of botID ordered by asset.
func (s *SnapshotStore) ListByBot(ctx context.Context, botID int64) ([]domain.AssetSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotCols+" FROM asset_snapshots WHERE bot_id = ? ORDER BY asset", botID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list snapshots for bot %d: %w", botID, err)
	}
	defer rows.Close()

	var out []domain.AssetSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// upsertSnapshotSQL keeps initial_price once set and never lowers the
// high-water mark or clears was_ever_held.
const upsertSnapshotSQL = `
	INSERT INTO asset_snapshots (` + snapshotCols + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (bot_id, asset) DO UPDATE SET
		initial_price     = CASE WHEN asset_snapshots.initial_price > 0
		                         THEN asset_snapshots.initial_price ELSE excluded.initial_price END,
		last_price        = excluded.last_price,
		units_held        = excluded.units_held,
		max_units_reached = MAX(asset_snapshots.max_units_reached, excluded.max_units_reached),
		was_ever_held     = MAX(asset_snapshots.was_ever_held, excluded.was_ever_held),
		equivalent_value  = excluded.equivalent_value,
		updated_at        = excluded.updated_at`

func upsertSnapshotArgs(snap domain.AssetSnapshot) []any {
	created := snap.CreatedAt
	if created.IsZero() {
		created = snap.UpdatedAt
	}
	return []any{
		snap.BotID, string(snap.Asset), snap.InitialPrice, snap.LastPrice, snap.UnitsHeld,
		snap.MaxUnitsReached, snap.WasEverHeld, snap.EquivalentValue, nanos(created), nanos(snap.UpdatedAt),
	}
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
