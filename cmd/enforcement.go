package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newEnforcementCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "enforcement",
		Aliases: []string{"state"},
		Short:   "Show blocked IPs and hashes, disabled accounts and isolated hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			snap, err := client.Enforcement(ctx)
			if err != nil {
				return fmt.Errorf("failed to get enforcement state: %w", err)
			}
			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), snap)
			}
			renderEnforcement(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}
