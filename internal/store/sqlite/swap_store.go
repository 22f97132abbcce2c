package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const swapCols = `id, bot_id, trade_id, from_asset, to_asset, price_change, quantity,
	estimated_units, from_price, to_price, filled_price, status, created_at, settled_at`

// SwapStore implements domain.SwapStore.
type SwapStore struct {
	db *sql.DB
}

func scanSwap(row scanner) (domain.SwapEvent, error) {
	var (
		e        domain.SwapEvent
		from, to string
		status   string
		filled   sql.NullFloat64
		created  int64
		settled  sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.BotID, &e.TradeID, &from, &to, &e.Change, &e.Quantity,
		&e.EstimatedUnits, &e.FromPrice, &e.ToPrice, &filled, &status, &created, &settled); err != nil {
		return domain.SwapEvent{}, err
	}
	e.From = domain.Asset(from)
	e.To = domain.Asset(to)
	e.Status = domain.SwapStatus(status)
	e.FilledPrice = fromNullFloat(filled)
	e.CreatedAt = fromNanos(created)
	e.SettledAt = fromNullNanos(settled)
	return e, nil
}

func getSwap(ctx context.Context, q queryer, tradeID string) (domain.SwapEvent, error) {
	e, err := scanSwap(q.QueryRowContext(ctx, "SELECT "+swapCols+" FROM swap_events WHERE trade_id = ?", tradeID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SwapEvent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("sqlite: get swap %s: %w", tradeID, err)
	}
	return e, nil
}

// GetByTradeID returns the swap recorded for tradeID.
func (s *SwapStore) GetByTradeID(ctx context.Context, tradeID string) (domain.SwapEvent, error) {
	return getSwap(ctx, s.db, tradeID)
}

// ListByBot returns swaps of botID, newest first. opts.Status filters by
// status.
func (s *SwapStore) ListByBot(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	query := "SELECT " + swapCols + " FROM swap_events WHERE bot_id = ?"
	args := []any{botID}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	query, args = appendFilters(query, args, "created_at", opts)
	return s.query(ctx, query, args...)
}

// ListPending returns every pending swap across bots.
func (s *SwapStore) ListPending(ctx context.Context) ([]domain.SwapEvent, error) {
	return s.query(ctx, "SELECT "+swapCols+" FROM swap_events WHERE status = 'pending' ORDER BY created_at")
}

func (s *SwapStore) query(ctx context.Context, query string, args ...any) ([]domain.SwapEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list swaps: %w", err)
	}
	defer rows.Close()

	var out []domain.SwapEvent
	for rows.Next() {
		e, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan swap: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list swaps rows: %w", err)
	}
	return out, nil
}

const insertSwapSQL = `
	INSERT INTO swap_events (bot_id, trade_id, from_asset, to_asset, price_change, quantity,
		estimated_units, from_price, to_price, filled_price, status, created_at, settled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertSwap(ctx context.Context, ex execer, e domain.SwapEvent) error {
	_, err := ex.ExecContext(ctx, insertSwapSQL,
		e.BotID, e.TradeID, string(e.From), string(e.To), e.Change, e.Quantity,
		e.EstimatedUnits, e.FromPrice, e.ToPrice, nullFloat(e.FilledPrice), string(e.Status),
		nanos(e.CreatedAt), nullNanos(e.SettledAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlite: insert swap %s: %w", e.TradeID, domain.ErrTradeActive)
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert swap %s: %w", e.TradeID, err)
	}
	return nil
}

// settleSwap moves a pending swap to a terminal status. Anything else is an
// invalid transition.
func settleSwap(ctx context.Context, ex execer, u domain.SwapUpdate) error {
	if !domain.SwapStatusPending.CanTransition(u.Status) {
		return fmt.Errorf("sqlite: settle swap %s to %s: %w", u.TradeID, u.Status, domain.ErrInvalidTransition)
	}
	res, err := ex.ExecContext(ctx,
		"UPDATE swap_events SET status = ?, filled_price = ?, settled_at = ? WHERE trade_id = ? AND status = 'pending'",
		string(u.Status), nullFloat(u.FilledPrice), nanos(u.SettledAt), u.TradeID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: settle swap %s: %w", u.TradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: settle swap %s: %w", u.TradeID, domain.ErrInvalidTransition)
	}
	return nil
}

var _ domain.SwapStore = (*SwapStore)(nil)
