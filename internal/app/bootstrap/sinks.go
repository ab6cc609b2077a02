package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/wolfman30/commerce-concierge/internal/audit"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/notify"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// BuildAlertSink fans operator alerts out to the operator_alerts table and,
// when OPERATOR_ALERT_EMAIL is set, to email via SES or SendGrid.
// The returned *sql.DB (possibly nil) is owned by the caller.
func BuildAlertSink(cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (escalation.AlertSink, *sql.DB, error) {
	logger = logging.OrDefault(logger)
	var sinks escalation.MultiAlertSink
	var db *sql.DB

	if cfg.DatabaseURL != "" {
		opened, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: open alerts db: %w", err)
		}
		db = opened
		sinks = append(sinks, escalation.NewSQLAlertSink(db))
	}

	if cfg.OperatorAlertEmail != "" {
		sender, err := buildEmailSender(cfg, awsCfg, logger)
		if err != nil {
			return nil, db, err
		}
		sinks = append(sinks, escalation.NewEmailAlertSink(sender, notify.ParseRecipients(cfg.OperatorAlertEmail)))
	}

	if len(sinks) == 0 {
		logger.Warn("no operator alert sink configured; alerts are logged only")
		return nil, db, nil
	}
	return sinks, db, nil
}

func buildEmailSender(cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (notify.Sender, error) {
	switch {
	case cfg.SendGridAPIKey != "":
		return notify.NewSendGridSender(cfg.SendGridAPIKey,
			notify.From{Address: cfg.SendGridFromEmail, Name: cfg.SendGridFromName}, logger)
	case cfg.SESFromEmail != "":
		loaded, err := awsCfg()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(loaded),
			notify.From{Address: cfg.SESFromEmail, Name: cfg.SendGridFromName}, logger)
	default:
		logger.Warn("OPERATOR_ALERT_EMAIL set without SES or SendGrid; alerts are logged only")
		return notify.NewLogSender(logger), nil
	}
}

// AuditTrail is the gateway's audit outbox plus its archive loop.
type AuditTrail struct {
	Outbox    *audit.Outbox
	Deliverer *audit.Deliverer
	pool      *pgxpool.Pool
}

// Close releases the pgx pool.
func (a *AuditTrail) Close() {
	if a != nil && a.pool != nil {
		a.pool.Close()
	}
}

// BuildAuditTrail connects the Postgres outbox. Without DATABASE_URL it
// returns nil and the gateway audits to the log only. The deliverer is nil
// unless AUDIT_ARCHIVE_BUCKET is set.
func BuildAuditTrail(ctx context.Context, cfg *appconfig.Config, awsCfg func() (aws.Config, error), logger *logging.Logger) (*AuditTrail, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect audit outbox: %w", err)
	}
	trail := &AuditTrail{Outbox: audit.NewOutbox(pool), pool: pool}
	if cfg.AuditArchiveBucket == "" {
		return trail, nil
	}
	loaded, err := awsCfg()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	archiver := audit.NewS3Archiver(s3.NewFromConfig(loaded), cfg.AuditArchiveBucket, logger)
	trail.Deliverer = audit.NewDeliverer(trail.Outbox, archiver, logger)
	return trail, nil
}
