package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show incident statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			stats, err := client.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), stats)
			}
			renderStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}
