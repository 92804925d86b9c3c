package cmd

import (
	"context"
	"fmt"

	"guardian/core"

	"github.com/spf13/cobra"
)

func newIncidentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "incidents",
		Aliases: []string{"incident", "inc"},
		Short:   "Inspect and decide incidents on a running server",
	}

	cmd.AddCommand(newIncidentsListCmd())
	cmd.AddCommand(newIncidentsShowCmd())
	cmd.AddCommand(newIncidentsSubmitCmd())
	cmd.AddCommand(newIncidentsPendingCmd())
	cmd.AddCommand(newDecisionCmd("approve", core.DecisionApproved))
	cmd.AddCommand(newDecisionCmd("deny", core.DecisionDenied))

	return cmd
}

// newIncidentsListCmd creates the 'list' subcommand
func newIncidentsListCmd() *cobra.Command {
	var (
		stage   string
		minRisk int
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List incidents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.IncidentFilter{MinRisk: minRisk, Limit: limit, Offset: offset}
			if stage != "" {
				s, err := core.ParseStage(stage)
				if err != nil {
					return err
				}
				filter.Stage = s
			}

			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			list, err := client.ListIncidents(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list incidents: %w", err)
			}
			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), list)
			}
			renderIncidentsTable(cmd.OutOrStdout(), list.Incidents, list.Total, list.Offset)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Only incidents in this stage")
	cmd.Flags().IntVar(&minRisk, "min-risk", 0, "Only incidents with at least this risk score")
	cmd.Flags().IntVar(&limit, "limit", core.DefaultListLimit, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")

	return cmd
}

func newIncidentsShowCmd() *cobra.Command {
	var reportOnly bool

	cmd := &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Show one incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			inc, err := client.GetIncident(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get incident: %w", err)
			}
			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), inc)
			}
			if reportOnly {
				if inc.Report == "" {
					warningColor.Fprintf(cmd.OutOrStdout(), "Incident is %s, no report yet\n", inc.Stage)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), inc.Report)
				return nil
			}
			renderIncidentDetails(cmd.OutOrStdout(), inc)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reportOnly, "report", false, "Print only the final report")
	return cmd
}

func newIncidentsSubmitCmd() *cobra.Command {
	var (
		file   string
		source string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a raw log to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawLog, err := readLogInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			resp, err := client.Submit(ctx, rawLog, source)
			if err != nil {
				return fmt.Errorf("failed to submit log: %w", err)
			}
			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), resp)
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Incident %s submitted\n", resp.IncidentID)
			if !quiet {
				infoColor.Fprintf(cmd.OutOrStdout(), "  Follow it with: guardian incidents show %s\n", resp.IncidentID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Log file to submit, or - for stdin (required)")
	cmd.Flags().StringVar(&source, "source", "cli", "Log source label")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newIncidentsPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List incidents waiting for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			pending, err := client.PendingApprovals(ctx)
			if err != nil {
				return fmt.Errorf("failed to list pending approvals: %w", err)
			}
			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), pending)
			}
			renderPendingTable(cmd.OutOrStdout(), pending)
			return nil
		},
	}
}

func newDecisionCmd(name string, decision core.Decision) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <incident-id>",
		Short: fmt.Sprintf("Record a %s decision for an incident awaiting approval", decision),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(serverURL, apiToken)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			if err := client.Decide(ctx, args[0], decision); err != nil {
				return fmt.Errorf("failed to %s incident: %w", name, err)
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ Incident %s %s\n", args[0], decision)
			return nil
		},
	}
}
