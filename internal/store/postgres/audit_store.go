package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

const insertAuditSQL = `
	INSERT INTO audit_log (bot_id, level, event, message, detail, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

func auditArgs(e domain.AuditEntry) ([]any, error) {
	var detailJSON []byte
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
		detailJSON = b
	}
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return []any{e.BotID, string(e.Level), e.Event, e.Message, detailJSON, at}, nil
}

// Log appends an audit entry. The detail map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	args, err := auditArgs(e)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertAuditSQL, args...); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", e.Event, err)
	}
	return nil
}

// List returns audit entries of botID with pagination, optional time window
// and level filter (opts.Status).
func (s *AuditStore) List(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, bot_id, level, event, message, detail, created_at FROM audit_log WHERE bot_id = $1`
	args := []any{botID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}
	query, args = appendFilters(query, args, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			level      string
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.BotID, &level, &e.Event, &e.Message, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		e.Level = domain.AuditLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
