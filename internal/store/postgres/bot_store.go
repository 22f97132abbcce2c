package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const botCols = `id, name, enabled, account_id, coins, threshold, check_interval_ms,
	initial_coin, current_coin, reference_coin, external_reference,
	global_loss_threshold, reentry_buffer, fee_rate, initial_units,
	global_peak_value, min_acceptable_value, active_trade_id, last_check_time,
	version, created_at, updated_at`

// BotStore implements domain.BotStore using PostgreSQL.
type BotStore struct {
	pool *pgxpool.Pool
}

// NewBotStore creates a new BotStore backed by the given connection pool.
func NewBotStore(pool *pgxpool.Pool) *BotStore {
	return &BotStore{pool: pool}
}

func scanBot(row pgx.Row) (domain.Bot, error) {
	var (
		b                     domain.Bot
		coins                 []string
		intervalMS            int64
		initial, current, ref string
	)
	err := row.Scan(
		&b.ID, &b.Name, &b.Enabled, &b.AccountID, &coins, &b.Threshold, &intervalMS,
		&initial, &current, &ref, &b.ExternalReference,
		&b.GlobalLossThreshold, &b.ReentryBuffer, &b.FeeRate, &b.InitialUnits,
		&b.GlobalPeakValue, &b.MinAcceptableValue, &b.ActiveTradeID, &b.LastCheckTime,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bot{}, err
	}
	b.Coins = make([]domain.Asset, len(coins))
	for i, c := range coins {
		b.Coins[i] = domain.Asset(c)
	}
	b.CheckInterval = time.Duration(intervalMS) * time.Millisecond
	b.InitialCoin = domain.Asset(initial)
	b.CurrentCoin = domain.Asset(current)
	b.ReferenceCoin = domain.Asset(ref)
	return b, nil
}

func coinStrings(coins []domain.Asset) []string {
	out := make([]string, len(coins))
	for i, c := range coins {
		out[i] = string(c)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func getBot(ctx context.Context, q dbtx, id int64, lock bool) (domain.Bot, error) {
	query := "SELECT " + botCols + " FROM bots WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	b, err := scanBot(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: get bot %d: %w", id, err)
	}
	return b, nil
}

// Create inserts a new bot and returns it with its assigned id.
func (s *BotStore) Create(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	const query = `
		INSERT INTO bots (name, enabled, account_id, coins, threshold, check_interval_ms,
			initial_coin, current_coin, reference_coin, external_reference,
			global_loss_threshold, reentry_buffer, fee_rate, initial_units,
			global_peak_value, min_acceptable_value, active_trade_id, last_check_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + botCols

	created, err := scanBot(s.pool.QueryRow(ctx, query,
		b.Name, b.Enabled, b.AccountID, coinStrings(b.Coins), b.Threshold, b.CheckInterval.Milliseconds(),
		string(b.InitialCoin), string(b.CurrentCoin), string(b.ReferenceCoin), b.ExternalReference,
		b.GlobalLossThreshold, b.ReentryBuffer, b.FeeRate, b.InitialUnits,
		b.GlobalPeakValue, b.MinAcceptableValue, b.ActiveTradeID, b.LastCheckTime,
	))
	if isUniqueViolation(err) {
		return domain.Bot{}, fmt.Errorf("postgres: create bot %q: %w", b.Name, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: create bot %q: %w", b.Name, err)
	}
	return created, nil
}

// Update replaces the configuration fields of a bot. Engine-owned state and
// its version are left alone.
func (s *BotStore) Update(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	const query = `
		UPDATE bots SET
			name = $2, enabled = $3, account_id = $4, coins = $5, threshold = $6,
			check_interval_ms = $7, initial_coin = $8, reference_coin = $9,
			external_reference = $10, global_loss_threshold = $11, reentry_buffer = $12,
			fee_rate = $13, initial_units = $14,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + botCols

	updated, err := scanBot(s.pool.QueryRow(ctx, query,
		b.ID, b.Name, b.Enabled, b.AccountID, coinStrings(b.Coins), b.Threshold,
		b.CheckInterval.Milliseconds(), string(b.InitialCoin), string(b.ReferenceCoin),
		b.ExternalReference, b.GlobalLossThreshold, b.ReentryBuffer,
		b.FeeRate, b.InitialUnits,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bot{}, domain.ErrNotFound
	}
	if isUniqueViolation(err) {
		return domain.Bot{}, fmt.Errorf("postgres: update bot %d: %w", b.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: update bot %d: %w", b.ID, err)
	}
	return updated, nil
}

// UpsertByName creates the bot or updates the configuration of the
// existing bot with the same name.
func (s *BotStore) UpsertByName(ctx context.Context, b domain.Bot) (domain.Bot, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "SELECT id FROM bots WHERE name = $1", b.Name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.Create(ctx, b)
	}
	if err != nil {
		return domain.Bot{}, fmt.Errorf("postgres: lookup bot %q: %w", b.Name, err)
	}
	b.ID = id
	return s.Update(ctx, b)
}

// Get returns a single bot by id.
func (s *BotStore) Get(ctx context.Context, id int64) (domain.Bot, error) {
	return getBot(ctx, s.pool, id, false)
}

// List returns every bot ordered by id.
func (s *BotStore) List(ctx context.Context) ([]domain.Bot, error) {
	return s.list(ctx, "SELECT "+botCols+" FROM bots ORDER BY id")
}

// ListEnabled returns the enabled bots ordered by id.
func (s *BotStore) ListEnabled(ctx context.Context) ([]domain.Bot, error) {
	return s.list(ctx, "SELECT "+botCols+" FROM bots WHERE enabled ORDER BY id")
}

func (s *BotStore) list(ctx context.Context, query string) ([]domain.Bot, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots: %w", err)
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bots rows: %w", err)
	}
	return bots, nil
}

// SetEnabled toggles the enabled flag.
func (s *BotStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE bots SET enabled = $2, updated_at = NOW() WHERE id = $1",
		id, enabled)
	if err != nil {
		return fmt.Errorf("postgres: set enabled bot %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a bot; dependent rows cascade.
func (s *BotStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin delete bot %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM audit_log WHERE bot_id = $1", id); err != nil {
		return fmt.Errorf("postgres: delete audit for bot %d: %w", id, err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM bots WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete bot %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit(ctx)
}

var _ domain.BotStore = (*BotStore)(nil)
