package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// StateStore implements domain.StateStore. Each commit locks the bot row
// with SELECT ... FOR UPDATE and checks its version before writing.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// LoadState reads the bot, its snapshots, its pending swap and the latest
// observed price per asset from one repeatable-read snapshot.
func (s *StateStore) LoadState(ctx context.Context, botID int64) (domain.BotState, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.BotState{}, fmt.Errorf("postgres: begin load state: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bot, err := getBot(ctx, tx, botID, false)
	if err != nil {
		return domain.BotState{}, err
	}
	st := domain.BotState{Bot: bot, Snapshots: make(map[domain.Asset]domain.AssetSnapshot)}

	snaps, err := listSnapshots(ctx, tx, botID)
	if err != nil {
		return domain.BotState{}, err
	}
	for _, snap := range snaps {
		st.Snapshots[snap.Asset] = snap
	}

	if bot.ActiveTradeID != "" {
		sw, err := getSwap(ctx, tx, bot.ActiveTradeID)
		switch {
		case err == nil:
			st.Pending = &sw
		case !errors.Is(err, domain.ErrNotFound):
			return domain.BotState{}, err
		}
	}

	if st.Seeds, err = latestPrices(ctx, tx, botID); err != nil {
		return domain.BotState{}, err
	}
	return st, tx.Commit(ctx)
}

// CommitState applies c in one transaction. The bot row is locked first; a
// version other than c.ExpectedVersion aborts with domain.ErrConflict.
func (s *StateStore) CommitState(ctx context.Context, c domain.CycleCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit bot %d: %w", c.BotID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int64
	err = tx.QueryRow(ctx, "SELECT version FROM bots WHERE id = $1 FOR UPDATE", c.BotID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: lock bot %d: %w", c.BotID, err)
	}
	if version != c.ExpectedVersion {
		return fmt.Errorf("postgres: bot %d at version %d, expected %d: %w", c.BotID, version, c.ExpectedVersion, domain.ErrConflict)
	}

	if b := c.Bot; b != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE bots SET
				current_coin = $2, global_peak_value = $3, min_acceptable_value = $4,
				active_trade_id = $5, last_check_time = $6,
				version = version + 1, updated_at = NOW()
			WHERE id = $1`,
			c.BotID, string(b.CurrentCoin), b.GlobalPeakValue, b.MinAcceptableValue,
			b.ActiveTradeID, b.LastCheckTime,
		); err != nil {
			return fmt.Errorf("postgres: update bot %d state: %w", c.BotID, err)
		}
	}

	if u := c.SwapUpdate; u != nil {
		if !domain.SwapStatusPending.CanTransition(u.Status) {
			return fmt.Errorf("postgres: settle swap %s to %s: %w", u.TradeID, u.Status, domain.ErrInvalidTransition)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE swap_events SET status = $2, filled_price = $3, settled_at = $4
			WHERE trade_id = $1 AND status = 'pending'`,
			u.TradeID, string(u.Status), u.FilledPrice, u.SettledAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: settle swap %s: %w", u.TradeID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: settle swap %s: %w", u.TradeID, domain.ErrInvalidTransition)
		}
	}

	if e := c.NewSwap; e != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO swap_events (bot_id, trade_id, from_asset, to_asset, price_change, quantity,
				estimated_units, from_price, to_price, filled_price, status, created_at, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			e.BotID, e.TradeID, string(e.From), string(e.To), e.Change, e.Quantity,
			e.EstimatedUnits, e.FromPrice, e.ToPrice, e.FilledPrice, string(e.Status),
			e.CreatedAt, e.SettledAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert swap %s: %w", e.TradeID, domain.ErrTradeActive)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert swap %s: %w", e.TradeID, err)
		}
	}

	batch := &pgx.Batch{}
	for _, snap := range c.Snapshots {
		queueSnapshot(batch, snap)
	}
	queueObservations(batch, c.Observations)
	for _, e := range c.Audit {
		args, err := auditArgs(e)
		if err != nil {
			return err
		}
		batch.Queue(insertAuditSQL, args...)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: commit bot %d batch item %d: %w", c.BotID, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: commit bot %d batch: %w", c.BotID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bot %d: %w", c.BotID, err)
	}
	return nil
}

var _ domain.StateStore = (*StateStore)(nil)
