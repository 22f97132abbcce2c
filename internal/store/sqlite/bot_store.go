package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const botCols = `id, name, enabled, account_id, coins, threshold, check_interval_ms,
	initial_coin, current_coin, reference_coin, external_reference,
	global_loss_threshold, reentry_buffer, fee_rate, initial_units,
	global_peak_value, min_acceptable_value, active_trade_id, last_check_time,
	version, created_at, updated_at`

// BotStore implements domain.BotStore.
type BotStore struct {
	db *sql.DB
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanBot(row scanner) (domain.Bot, error) {
	var (
		b                domain.Bot
		coins            string
		intervalMS       int64
		initial, current string
		ref, activeTrade string
		lastCheck        sql.NullInt64
		created, updated int64
	)
	err := row.Scan(
		&b.ID, &b.Name, &b.Enabled, &b.AccountID, &coins, &b.Threshold, &intervalMS,
		&initial, &current, &ref, &b.ExternalReference,
		&b.GlobalLossThreshold, &b.ReentryBuffer, &b.FeeRate, &b.InitialUnits,
		&b.GlobalPeakValue, &b.MinAcceptableValue, &activeTrade, &lastCheck,
		&b.Version, &created, &updated,
	)
	if err != nil {
		return domain.Bot{}, err
	}
	if err := json.Unmarshal([]byte(coins), &b.Coins); err != nil {
		return domain.Bot{}, fmt.Errorf("decode coins: %w", err)
	}
	b.CheckInterval = time.Duration(intervalMS) * time.Millisecond
	b.InitialCoin = domain.Asset(initial)
	b.CurrentCoin = domain.Asset(current)
	b.ReferenceCoin = domain.Asset(ref)
	b.ActiveTradeID = activeTrade
	b.LastCheckTime = fromNullNanos(lastCheck)
	b.CreatedAt = fromNanos(created)
	b.UpdatedAt = fromNanos(updated)
	return b, nil
}

func getBot(ctx context.Context, q queryer, id int64) (domain.Bot, error) {
	b, err := scanBot(q.QueryRowContext(ctx, "SELECT "+botCols+" FROM bots WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: get bot %d: %w", id, err)
	}
	return b, nil
}

// Create inserts a new bot and returns it with its assigned id.
func (s *BotStore) Create(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	coins, err := json.Marshal(b.Coins)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: encode coins: %w", err)
	}
	now := time.Now().UnixNano()
	const query = `
		INSERT INTO bots (name, enabled, account_id, coins, threshold, check_interval_ms,
			initial_coin, current_coin, reference_coin, external_reference,
			global_loss_threshold, reentry_buffer, fee_rate, initial_units,
			global_peak_value, min_acceptable_value, active_trade_id, last_check_time,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		b.Name, b.Enabled, b.AccountID, string(coins), b.Threshold, b.CheckInterval.Milliseconds(),
		string(b.InitialCoin), string(b.CurrentCoin), string(b.ReferenceCoin), b.ExternalReference,
		b.GlobalLossThreshold, b.ReentryBuffer, b.FeeRate, b.InitialUnits,
		b.GlobalPeakValue, b.MinAcceptableValue, b.ActiveTradeID, nullNanos(b.LastCheckTime),
		now, now,
	)
	if isUniqueViolation(err) {
		return domain.Bot{}, fmt.Errorf("sqlite: create bot %q: %w", b.Name, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: create bot %q: %w", b.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: create bot %q: %w", b.Name, err)
	}
	return getBot(ctx, s.db, id)
}

const updateConfigSQL = `
	UPDATE bots SET
		name = ?, enabled = ?, account_id = ?, coins = ?, threshold = ?, check_interval_ms = ?,
		initial_coin = ?, reference_coin = ?, external_reference = ?,
		global_loss_threshold = ?, reentry_buffer = ?, fee_rate = ?, initial_units = ?,
		updated_at = ?
	WHERE id = ?`

func updateConfigArgs(b domain.Bot, coins []byte) []any {
	return []any{
		b.Name, b.Enabled, b.AccountID, string(coins), b.Threshold, b.CheckInterval.Milliseconds(),
		string(b.InitialCoin), string(b.ReferenceCoin), b.ExternalReference,
		b.GlobalLossThreshold, b.ReentryBuffer, b.FeeRate, b.InitialUnits,
		time.Now().UnixNano(), b.ID,
	}
}

// Update replaces the configuration fields of an existing bot. Runtime state
// (held asset, peak, active trade) and its version are owned by the engine
// and left alone.
func (s *BotStore) Update(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	coins, err := json.Marshal(b.Coins)
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: encode coins: %w", err)
	}
	res, err := s.db.ExecContext(ctx, updateConfigSQL, updateConfigArgs(b, coins)...)
	if isUniqueViolation(err) {
		return domain.Bot{}, fmt.Errorf("sqlite: update bot %d: %w", b.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: update bot %d: %w", b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Bot{}, domain.ErrNotFound
	}
	return getBot(ctx, s.db, b.ID)
}

// UpsertByName creates the bot or updates the configuration of the bot with
// the same name.
func (s *BotStore) UpsertByName(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM bots WHERE name = ?", b.Name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return s.Create(ctx, b)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("sqlite: lookup bot %q: %w", b.Name, err)
	}
	b.ID = id
	return s.Update(ctx, b)
}

// Get returns the bot with the given id.
func (s *BotStore) Get(ctx context.Context, id int64) (domain.Bot, error) {
	return getBot(ctx, s.db, id)
}

// List returns every bot ordered by id.
func (s *BotStore) List(ctx context.Context) ([]domain.Bot, error) {
	return s.list(ctx, "SELECT "+botCols+" FROM bots ORDER BY id")
}

// ListEnabled returns the enabled bots ordered by id.
func (s *BotStore) ListEnabled(ctx context.Context) ([]domain.Bot, error) {
	return s.list(ctx, "SELECT "+botCols+" FROM bots WHERE enabled = 1 ORDER BY id")
}

func (s *BotStore) list(ctx context.Context, query string) ([]domain.Bot, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list bots: %w", err)
	}
	defer rows.Close()

	var out []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan bot: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list bots rows: %w", err)
	}
	return out, nil
}

// SetEnabled toggles the enabled flag.
func (s *BotStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE bots SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set enabled bot %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a bot and everything recorded for it.
func (s *BotStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete bot %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"asset_snapshots", "price_observations", "swap_events", "audit_log"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE bot_id = ?", id); err != nil {
			return fmt.Errorf("sqlite: delete %s for bot %d: %w", table, id, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM bots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete bot %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit delete bot %d: %w", id, err)
	}
	return nil
}

var _ domain.BotStore = (*BotStore)(nil)
