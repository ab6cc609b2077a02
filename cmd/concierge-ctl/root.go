package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	appbootstrap "github.com/wolfman30/commerce-concierge/internal/app/bootstrap"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

type tenantAdmin interface {
	tenant.Provider
	Set(ctx context.Context, cfg *tenant.Settings) error
	SetActive(ctx context.Context, tenantID string, active bool) error
}

type alertReader interface {
	Pending(ctx context.Context, tenantID string, limit int) ([]escalation.OperatorAlert, error)
}

// env carries config and the backends commands talk to, so tests can swap them.
type env struct {
	cfg     *appconfig.Config
	out     io.Writer
	logger  *logging.Logger
	tenants func(ctx context.Context) (tenantAdmin, func(), error)
	alerts  func() (alertReader, func(), error)
}

func defaultEnv(cfg *appconfig.Config, out io.Writer) *env {
	logger := logging.New("error")
	return &env{
		cfg:    cfg,
		out:    out,
		logger: logger,
		tenants: func(ctx context.Context) (tenantAdmin, func(), error) {
			client := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
			if client == nil {
				return nil, nil, fmt.Errorf("redis at %q is not reachable", cfg.RedisAddr)
			}
			return tenant.NewRedisStore(client), func() { _ = client.Close() }, nil
		},
		alerts: func() (alertReader, func(), error) {
			if cfg.DatabaseURL == "" {
				return nil, nil, fmt.Errorf("DATABASE_URL is required")
			}
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, nil, fmt.Errorf("open db: %w", err)
			}
			return escalation.NewSQLAlertSink(db), func() { _ = db.Close() }, nil
		},
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "concierge-ctl",
		Short:         "Operator tooling for the commerce concierge",
		Long:          `Seed tenant settings, flip the per-tenant kill switch, read operator alerts and simulate conversations locally.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.PersistentFlags().StringP("file", "f", e.cfg.OperatorCLIConfig, "Tenant seed file (YAML)")

	root.AddCommand(newTenantCmd(e), newSimulateCmd(e), newAlertsCmd(e))
	return root
}
