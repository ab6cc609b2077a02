package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAlertsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Read operator alerts",
	}
	var limit int
	pending := &cobra.Command{
		Use:   "pending <tenant-id>",
		Short: "List unacknowledged alerts for a tenant, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, closeFn, err := e.alerts()
			if err != nil {
				return err
			}
			defer closeFn()
			alerts, err := reader.Pending(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(alerts) == 0 {
				fmt.Fprintln(out, "no pending alerts")
				return nil
			}
			for _, a := range alerts {
				fmt.Fprintf(out, "%s  %-8s %-28s conv=%s  %s\n",
					a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), a.Severity, a.Kind, a.ConversationID, a.Message)
			}
			return nil
		},
	}
	pending.Flags().IntVar(&limit, "limit", 20, "Maximum alerts to list")
	cmd.AddCommand(pending)
	return cmd
}
