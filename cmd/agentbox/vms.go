package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mateo/agentbox/internal/lima"
)

func (a *app) psCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List session VMs left by 'run --keep' or interrupted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := lima.NewClient()
			if err != nil {
				return err
			}
			sessions, err := lima.ListSessions(cmd.Context(), client)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "NAME\tSTATUS\tCPUS\tMEMORY\tDISK\n")
			for _, inst := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", inst.Name, inst.Status, inst.CPUs, gib(inst.Memory), gib(inst.Disk))
			}
			return w.Flush()
		},
	}
}

func (a *app) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete all session VMs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := lima.NewClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sessions, err := lima.ListSessions(ctx, client)
			if err != nil {
				return err
			}

			var failed int
			for _, inst := range sessions {
				if err := client.Delete(ctx, inst.Name, true); err != nil {
					a.log.Warn("Deleting session VM failed", zap.String("instance", inst.Name), zap.Error(err))
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", inst.Name)
			}
			if failed > 0 {
				return fmt.Errorf("%d session VM(s) could not be deleted", failed)
			}
			return nil
		},
	}
}

func gib(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dGiB", bytes>>30)
}
