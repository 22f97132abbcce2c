package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// StateStore implements domain.StateStore. Commits run in one transaction
// and are guarded by the bot row's version.
type StateStore struct {
	db *sql.DB
}

// LoadState reads the bot, its snapshots, its pending swap and the latest
// observed price per asset in one transaction.
func (s *StateStore) LoadState(ctx context.Context, botID int64) (domain.BotState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.BotState{}, fmt.Errorf("sqlite: begin load state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bot, err := getBot(ctx, tx, botID)
	if err != nil {
		return domain.BotState{}, err
	}
	st := domain.BotState{Bot: bot, Snapshots: make(map[domain.Asset]domain.AssetSnapshot)}

	rows, err := tx.QueryContext(ctx, "SELECT "+snapshotCols+" FROM asset_snapshots WHERE bot_id = ?", botID)
	if err != nil {
		return domain.BotState{}, fmt.Errorf("sqlite: load snapshots for bot %d: %w", botID, err)
	}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			rows.Close()
			return domain.BotState{}, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		st.Snapshots[snap.Asset] = snap
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.BotState{}, fmt.Errorf("sqlite: load snapshots rows: %w", err)
	}

	if bot.ActiveTradeID != "" {
		sw, err := getSwap(ctx, tx, bot.ActiveTradeID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.BotState{}, err
		}
		if err == nil {
			st.Pending = &sw
		}
	}

	if st.Seeds, err = latestPrices(ctx, tx, botID); err != nil {
		return domain.BotState{}, err
	}
	return st, nil
}

// CommitState applies c atomically. A version mismatch yields
// domain.ErrConflict and nothing is written.
func (s *StateStore) CommitState(ctx context.Context, c domain.CycleCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin commit bot %d: %w", c.BotID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM bots WHERE id = ?", c.BotID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: read version bot %d: %w", c.BotID, err)
	}
	if version != c.ExpectedVersion {
		return fmt.Errorf("sqlite: bot %d at version %d, expected %d: %w", c.BotID, version, c.ExpectedVersion, domain.ErrConflict)
	}

	if b := c.Bot; b != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE bots SET
				current_coin = ?, global_peak_value = ?, min_acceptable_value = ?,
				active_trade_id = ?, last_check_time = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(b.CurrentCoin), b.GlobalPeakValue, b.MinAcceptableValue,
			b.ActiveTradeID, nullNanos(b.LastCheckTime),
			time.Now().UnixNano(), c.BotID, c.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("sqlite: update bot %d state: %w", c.BotID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: update bot %d state: %w", c.BotID, domain.ErrConflict)
		}
	}

	for _, snap := range c.Snapshots {
		if _, err := tx.ExecContext(ctx, upsertSnapshotSQL, upsertSnapshotArgs(snap)...); err != nil {
			return fmt.Errorf("sqlite: upsert snapshot %d/%s: %w", snap.BotID, snap.Asset, err)
		}
	}
	if err := insertObservations(ctx, tx, c.Observations); err != nil {
		return err
	}
	if c.SwapUpdate != nil {
		if err := settleSwap(ctx, tx, *c.SwapUpdate); err != nil {
			return err
		}
	}
	if c.NewSwap != nil {
		if err := insertSwap(ctx, tx, *c.NewSwap); err != nil {
			return err
		}
	}
	for _, e := range c.Audit {
		if err := insertAudit(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit bot %d: %w", c.BotID, err)
	}
	return nil
}

var _ domain.StateStore = (*StateStore)(nil)
