package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const swapCols = `id, bot_id, trade_id, from_asset, to_asset, price_change, quantity,
	estimated_units, from_price, to_price, filled_price, status, created_at, settled_at`

// SwapStore implements domain.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *pgxpool.Pool
}

// NewSwapStore creates a new SwapStore backed by the given connection pool.
func NewSwapStore(pool *pgxpool.Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

func scanSwap(row pgx.Row) (domain.SwapEvent, error) {
	var (
		e                domain.SwapEvent
		from, to, status string
	)
	if err := row.Scan(&e.ID, &e.BotID, &e.TradeID, &from, &to, &e.Change, &e.Quantity,
		&e.EstimatedUnits, &e.FromPrice, &e.ToPrice, &e.FilledPrice, &status, &e.CreatedAt, &e.SettledAt); err != nil {
		return domain.SwapEvent{}, err
	}
	e.From = domain.Asset(from)
	e.To = domain.Asset(to)
	e.Status = domain.SwapStatus(status)
	return e, nil
}

func getSwap(ctx context.Context, q dbtx, tradeID string) (domain.SwapEvent, error) {
	e, err := scanSwap(q.QueryRow(ctx, "SELECT "+swapCols+" FROM swap_events WHERE trade_id = $1", tradeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SwapEvent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("postgres: get swap %s: %w", tradeID, err)
	}
	return e, nil
}

// GetByTradeID returns the swap recorded for tradeID.
func (s *SwapStore) GetByTradeID(ctx context.Context, tradeID string) (domain.SwapEvent, error) {
	return getSwap(ctx, s.pool, tradeID)
}

// ListByBot returns swaps of botID, newest first, optionally filtered by
// opts.Status.
func (s *SwapStore) ListByBot(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	query := "SELECT " + swapCols + " FROM swap_events WHERE bot_id = $1"
	args := []any{botID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query, args = appendFilters(query, args, "created_at", opts)
	return s.query(ctx, query, args...)
}

// ListPending returns every pending swap across bots.
func (s *SwapStore) ListPending(ctx context.Context) ([]domain.SwapEvent, error) {
	return s.query(ctx, "SELECT "+swapCols+" FROM swap_events WHERE status = 'pending' ORDER BY created_at")
}

func (s *SwapStore) query(ctx context.Context, query string, args ...any) ([]domain.SwapEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list swaps: %w", err)
	}
	defer rows.Close()

	var out []domain.SwapEvent
	for rows.Next() {
		e, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan swap: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list swaps rows: %w", err)
	}
	return out, nil
}

var _ domain.SwapStore = (*SwapStore)(nil)
