package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/commerce-concierge/internal/notify"
)

// Alert kinds surfaced to the operator channel.
const (
	AlertHandoffFailed      = "handoff_failed"
	AlertIsolationViolation = "tenant_isolation_violation"
)

// SeverityCritical marks alerts that need a human now.
const SeverityCritical = "critical"

// OperatorAlert is a failure the automated path could not absorb.
type OperatorAlert struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	Severity       string         `json:"severity"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (a *OperatorAlert) fill() {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Severity == "" {
		a.Severity = SeverityCritical
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}

// AlertSink receives operator alerts.
type AlertSink interface {
	Raise(ctx context.Context, alert OperatorAlert) error
}

// SQLAlertSink appends alerts to the operator_alerts table.
type SQLAlertSink struct {
	db *sql.DB
}

func NewSQLAlertSink(db *sql.DB) *SQLAlertSink {
	if db == nil {
		panic("escalation: sql db cannot be nil")
	}
	return &SQLAlertSink{db: db}
}

// Raise records the alert.
func (s *SQLAlertSink) Raise(ctx context.Context, alert OperatorAlert) error {
	alert.fill()
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("escalation: marshal alert details: %w", err)
	}

	query := `
		INSERT INTO operator_alerts (
			id, kind, severity, tenant_id, conversation_id,
			request_id, message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		alert.ID,
		alert.Kind,
		alert.Severity,
		alert.TenantID,
		nullString(alert.ConversationID),
		nullString(alert.RequestID),
		alert.Message,
		details,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("escalation: insert operator alert: %w", err)
	}
	return nil
}

// Pending returns the most recent unacknowledged alerts for a tenant.
func (s *SQLAlertSink) Pending(ctx context.Context, tenantID string, limit int) ([]OperatorAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, severity, tenant_id, COALESCE(conversation_id, ''),
		       COALESCE(request_id, ''), message, details, created_at
		FROM operator_alerts
		WHERE tenant_id = $1 AND acknowledged_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("escalation: query alerts: %w", err)
	}
	defer rows.Close()

	var out []OperatorAlert
	for rows.Next() {
		var a OperatorAlert
		var details []byte
		if err := rows.Scan(&a.ID, &a.Kind, &a.Severity, &a.TenantID, &a.ConversationID,
			&a.RequestID, &a.Message, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("escalation: scan alert: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &a.Details)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// EmailAlertSink mails each alert to the operator addresses.
type EmailAlertSink struct {
	sender notify.Sender
	to     []string
}

func NewEmailAlertSink(sender notify.Sender, to []string) *EmailAlertSink {
	if sender == nil {
		panic("escalation: email sender cannot be nil")
	}
	return &EmailAlertSink{sender: sender, to: to}
}

// Raise sends the alert as a plain-text email tagged with its kind.
func (s *EmailAlertSink) Raise(ctx context.Context, alert OperatorAlert) error {
	alert.fill()
	var body strings.Builder
	fmt.Fprintf(&body, "%s\n\n", alert.Message)
	fmt.Fprintf(&body, "tenant: %s\nconversation: %s\nrequest: %s\nat: %s\n",
		alert.TenantID, alert.ConversationID, alert.RequestID, alert.CreatedAt.Format(time.RFC3339))
	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&body, "%s: %v\n", k, alert.Details[k])
	}
	return s.sender.Send(ctx, notify.Message{
		To:       s.to,
		Subject:  fmt.Sprintf("[%s] %s for tenant %s", strings.ToUpper(alert.Severity), alert.Kind, alert.TenantID),
		Text:     body.String(),
		Category: alert.Kind,
	})
}

// MultiAlertSink raises every alert on all sinks and joins their errors.
type MultiAlertSink []AlertSink

func (m MultiAlertSink) Raise(ctx context.Context, alert OperatorAlert) error {
	alert.fill()
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Raise(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ AlertSink = (*SQLAlertSink)(nil)
	_ AlertSink = (*EmailAlertSink)(nil)
	_ AlertSink = MultiAlertSink(nil)
)
