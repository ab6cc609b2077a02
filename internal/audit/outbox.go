// Package audit persists the tool gateway's per-call audit trail in a
// Postgres outbox and ships delivered batches to long-term storage.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/commerce-concierge/internal/tools"
)

// Entry is one stored audit record.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	RequestID      string    `json:"request_id"`
	Tool           string    `json:"tool"`
	Outcome        string    `json:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Outbox stores audit entries until they are archived.
type Outbox struct {
	db db
}

var _ tools.AuditSink = (*Outbox)(nil)

// NewOutbox wraps a pgx pool (or anything with the same Exec/Query shape).
func NewOutbox(pool db) *Outbox {
	if pool == nil {
		panic("audit: pgx pool required")
	}
	return &Outbox{db: pool}
}

// Record inserts one gateway audit entry.
func (o *Outbox) Record(ctx context.Context, e tools.AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var code *string
	if e.ErrorCode != "" {
		code = &e.ErrorCode
	}
	query := `
		INSERT INTO tool_audit_outbox (id, tenant_id, conversation_id, request_id, tool, outcome, error_code, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := o.db.Exec(ctx, query, uuid.New(), e.TenantID, e.ConversationID, e.RequestID,
		string(e.Tool), e.Outcome, code, e.Latency.Milliseconds(), at); err != nil {
		return fmt.Errorf("audit: insert outbox: %w", err)
	}
	return nil
}

// FetchPending returns the oldest entries not yet archived.
func (o *Outbox) FetchPending(ctx context.Context, limit int32) ([]Entry, error) {
	query := `
		SELECT id, tenant_id, conversation_id, request_id, tool, outcome, COALESCE(error_code, ''), latency_ms, created_at
		FROM tool_audit_outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := o.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConversationID, &e.RequestID, &e.Tool,
			&e.Outcome, &e.ErrorCode, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan outbox: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered flags entries as archived and returns how many changed.
func (o *Outbox) MarkDelivered(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE tool_audit_outbox
		SET delivered_at = now()
		WHERE id = ANY($1) AND delivered_at IS NULL
	`
	ct, err := o.db.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("audit: mark delivered: %w", err)
	}
	return ct.RowsAffected(), nil
}
