// Package cmd implements the guardian command line.
package cmd

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	configFile string
	serverURL  string
	apiToken   string
	outputJSON bool
	outputYAML bool
	noColor    bool
	quiet      bool
)

const (
	maxLogFileSize = 512 * 1024 // matches the API's raw_log limit
	defaultTimeout = 30 * time.Second
)

// NewRootCmd creates the guardian command with all subcommands. Without a
// subcommand it runs the server.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guardian",
		Short: "Security incident pipeline engine",
		Long: `Guardian turns raw security logs into incidents and drives each one through
analysis, threat-intel investigation, mitigation planning, an optional human
approval gate, enforcement and reporting.

Run without a subcommand to start the API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml if present)")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "Guardian API base URL")
	root.PersistentFlags().StringVar(&apiToken, "token", "", "Bearer token for the API (or GUARDIAN_TOKEN)")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&outputYAML, "yaml", false, "Output in YAML format")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newIncidentsCmd())
	root.AddCommand(newEnforcementCmd())
	root.AddCommand(newStatsCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
