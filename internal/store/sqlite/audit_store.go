package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db *sql.DB
}

func insertAudit(ctx context.Context, ex execer, e domain.AuditEntry) error {
	var detail sql.NullString
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal audit detail: %w", err)
		}
		detail = sql.NullString{String: string(b), Valid: true}
	}
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := ex.ExecContext(ctx,
		"INSERT INTO audit_log (bot_id, level, event, message, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.BotID, string(e.Level), e.Event, e.Message, detail, at.UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", e.Event, err)
	}
	return nil
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	return insertAudit(ctx, s.db, e)
}

// List returns audit entries of botID, newest first. opts.Status filters by
// level.
func (s *AuditStore) List(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := "SELECT id, bot_id, level, event, message, detail, created_at FROM audit_log WHERE bot_id = ?"
	args := []any{botID}
	if opts.Status != "" {
		query += " AND level = ?"
		args = append(args, opts.Status)
	}
	query, args = appendFilters(query, args, "created_at", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			level  string
			detail sql.NullString
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.BotID, &level, &e.Event, &e.Message, &detail, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.Level = domain.AuditLevel(level)
		e.CreatedAt = fromNanos(at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
