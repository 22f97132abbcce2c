// Package sqlite implements the domain store interfaces on an embedded
// SQLite database, for single-node and paper deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client owns the database handle and the stores built on it.
type Client struct {
	db *sql.DB

	bots   *BotStore
	snaps  *SnapshotStore
	obs    *ObservationStore
	swaps  *SwapStore
	audit  *AuditStore
	states *StateStore
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Client, error) {
	if path == "" {
		return nil, errors.New("sqlite: database path is empty")
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Single writer; an in-memory database also lives and dies with its
	// only connection.
	db.SetMaxOpenConns(1)
	if !memory {
		db.SetConnMaxLifetime(time.Hour)
	}
	return NewFromDB(db), nil
}

// NewFromDB wraps an existing handle. Tests use it with sqlmock.
func NewFromDB(db *sql.DB) *Client {
	c := &Client{db: db}
	c.bots = &BotStore{db: db}
	c.snaps = &SnapshotStore{db: db}
	c.obs = &ObservationStore{db: db}
	c.swaps = &SwapStore{db: db}
	c.audit = &AuditStore{db: db}
	c.states = &StateStore{db: db}
	return c
}

func (c *Client) Bots() domain.BotStore                 { return c.bots }
func (c *Client) Snapshots() domain.SnapshotStore       { return c.snaps }
func (c *Client) Observations() domain.ObservationStore { return c.obs }
func (c *Client) Swaps() domain.SwapStore               { return c.swaps }
func (c *Client) Audit() domain.AuditStore              { return c.audit }
func (c *Client) State() domain.StateStore              { return c.states }

// Ping checks the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the database handle.
func (c *Client) Close() {
	_ = c.db.Close()
}

// RunMigrations applies embedded migrations in lexical order, recording each
// in schema_migrations.
func (c *Client) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`
	if _, err := c.db.ExecContext(ctx, createTracker); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		var n int
		if err := c.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM schema_migrations WHERE filename = ?", name,
		).Scan(&n); err != nil {
			return fmt.Errorf("sqlite: check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", name, err)
		}

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin tx for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)",
			name, time.Now().UnixNano(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %s: %w", name, err)
		}
	}
	return nil
}

var _ domain.Store = (*Client)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// appendFilters adds the time window and paging of opts to query.
func appendFilters(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += " AND " + col + " >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += " AND " + col + " <= ?"
		args = append(args, opts.Until.UnixNano())
	}
	query += " ORDER BY " + col + " DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}
	return query, args
}
