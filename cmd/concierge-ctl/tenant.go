package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newTenantCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenant settings and the kill switch",
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Write every tenant in the seed file to the settings store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			f, err := loadSeedFile(path)
			if err != nil {
				return err
			}
			store, closeFn, err := e.tenants(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			for i := range f.Tenants {
				if err := store.Set(cmd.Context(), &f.Tenants[i].Settings); err != nil {
					return fmt.Errorf("seed %s: %w", f.Tenants[i].TenantID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tenant(s)\n", len(f.Tenants))
			return nil
		},
	}

	switchCmd := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <tenant-id>...",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, closeFn, err := e.tenants(cmd.Context())
				if err != nil {
					return err
				}
				defer closeFn()
				for _, id := range args {
					if err := store.SetActive(cmd.Context(), id, active); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, map[bool]string{true: "active", false: "disabled"}[active])
				}
				return nil
			},
		}
	}

	show := &cobra.Command{
		Use:   "show <tenant-id>",
		Short: "Print the stored settings for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := e.tenants(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			settings, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(
		seed,
		switchCmd("kill", "Engage the kill switch; turns get a service-unavailable reply", false),
		switchCmd("revive", "Release the kill switch", true),
		show,
	)
	return cmd
}
