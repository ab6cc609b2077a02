package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appbootstrap "github.com/wolfman30/commerce-concierge/internal/app/bootstrap"
	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/internal/tools"
)

func newSimulateCmd(e *env) *cobra.Command {
	var (
		tenantID       string
		conversationID string
		phone          string
	)
	cmd := &cobra.Command{
		Use:   "simulate <message>...",
		Short: "Run messages through an in-process engine backed by the seed file's fixtures",
		Long: `Builds the turn engine with in-memory state, the tenants from the seed
file and their fixtures as the tool backend, then plays each message as one
turn of the same conversation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			f, err := loadSeedFile(path)
			if err != nil {
				return err
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}
			rt, err := simulationRuntime(cmd.Context(), e, f, &tenantID)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.Background()) }()

			out := cmd.OutOrStdout()
			for _, text := range args {
				res, err := rt.Dispatcher.Submit(cmd.Context(), orchestrator.Inbound{
					TenantID:       tenantID,
					ConversationID: conversationID,
					PhoneE164:      phone,
					MessageText:    text,
					ReceivedAt:     time.Now().UTC(),
				})
				fmt.Fprintf(out, "> %s\n", text)
				if res.ResponseText != "" {
					fmt.Fprintf(out, "< %s\n", res.ResponseText)
				}
				fmt.Fprintf(out, "  [journey=%s language=%s escalated=%t]\n", res.Journey, res.ResponseLanguage, res.EscalationRequired)
				if err != nil {
					fmt.Fprintf(out, "  error: %v\n", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (defaults to the first tenant in the seed file)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (random when empty)")
	cmd.Flags().StringVar(&phone, "phone", "", "Customer phone in E.164")
	return cmd
}

// simulationRuntime never touches shared infrastructure: state, tenants and
// tools are all in-process.
func simulationRuntime(ctx context.Context, e *env, f *seedFile, tenantID *string) (*appbootstrap.Runtime, error) {
	if len(f.Tenants) == 0 {
		return nil, fmt.Errorf("seed file has no tenants")
	}
	if *tenantID == "" {
		*tenantID = f.Tenants[0].TenantID
	}

	backend := tools.NewMemoryBackend()
	settings := make([]tenant.Settings, 0, len(f.Tenants))
	found := false
	for _, t := range f.Tenants {
		s := t.Settings
		s.Active = true
		settings = append(settings, s)
		if t.Fixture != nil {
			backend.SetFixture(s.TenantID, *t.Fixture)
		}
		found = found || s.TenantID == *tenantID
	}
	if !found {
		return nil, fmt.Errorf("tenant %s is not in the seed file", *tenantID)
	}

	cfg := *e.cfg
	cfg.StateBackend = "memory"
	cfg.DatabaseURL = ""
	cfg.OperatorAlertEmail = ""
	cfg.ToolBackendURL = ""
	return appbootstrap.Build(ctx, &cfg, e.logger, appbootstrap.Options{
		Backend: backend,
		Tenants: tenant.NewMemoryStore(settings...),
		States:  state.NewMemoryStore(),
	})
}
