package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"guardian/bootstrap"
	"guardian/broadcast"
	"guardian/core"
	"guardian/pipeline"
	"guardian/util"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// pollInterval backs up the event stream, which may drop events for a slow reader.
const pollInterval = 2 * time.Second

func newAnalyzeCmd() *cobra.Command {
	var (
		file        string
		source      string
		autoApprove bool
		verbose     bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one log through the pipeline in-process",
		Long: `Run a single raw log through the full pipeline without a server.

When the mitigation plan needs approval the command asks on the terminal,
unless --auto-approve is set. Enforcement uses the configured backends, or
the simulator when none are configured.`,
		Example: `  guardian analyze --file /var/log/auth.log.1
  tail -n 50 /var/log/auth.log | guardian analyze --file - --source sshd --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawLog, err := readLogInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			level := "error"
			if verbose {
				level = "debug"
			}
			_, sugar, err := bootstrap.InitLogger(level)
			if err != nil {
				return err
			}
			cfg, err := bootstrap.InitConfig(configFile, sugar)
			if err != nil {
				return err
			}
			if _, err := bootstrap.EnsureDataDirectory(cfg.DataDir, sugar); err != nil {
				return err
			}
			engine, err := bootstrap.NewEngine(ctx, cfg, sugar)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
				defer cancel()
				_ = engine.Orchestrator.Shutdown(shutdownCtx)
				engine.Close(shutdownCtx)
			}()

			session := &analyzeSession{
				orch:        engine.Orchestrator,
				in:          bufio.NewReader(cmd.InOrStdin()),
				out:         cmd.OutOrStdout(),
				autoApprove: autoApprove,
				interactive: file != "-",
			}
			inc, err := session.run(ctx, rawLog, source)
			if err != nil {
				return err
			}

			if outputJSON || outputYAML {
				return printStructured(cmd.OutOrStdout(), inc)
			}
			renderIncidentDetails(cmd.OutOrStdout(), inc)
			if inc.Stage == core.StageError {
				return fmt.Errorf("incident %s failed: %s", inc.ID, inc.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Log file to analyze, or - for stdin (required)")
	cmd.Flags().StringVar(&source, "source", "cli", "Log source label")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Approve the mitigation plan without asking")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show pipeline logs")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readLogInput reads the log from a file, or from in when path is "-".
func readLogInput(in io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(in, maxLogFileSize+1))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if len(data) > maxLogFileSize {
			return "", fmt.Errorf("%w: stdin exceeds %d bytes", util.ErrFileTooLarge, maxLogFileSize)
		}
		return string(data), nil
	}
	return util.ReadLogFile(path, maxLogFileSize)
}

// analyzeSession drives one incident from submission to a terminal stage.
type analyzeSession struct {
	orch        *pipeline.Orchestrator
	in          *bufio.Reader
	out         io.Writer
	autoApprove bool
	interactive bool
	decided     bool
}

func (s *analyzeSession) run(ctx context.Context, rawLog, source string) (*core.Incident, error) {
	// subscribe before submitting so the first events are not missed
	sub, _, err := s.orch.Subscribe(ctx, broadcast.AllIncidents)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	id, err := s.orch.Submit(ctx, rawLog, source)
	if err != nil {
		return nil, fmt.Errorf("failed to submit log: %w", err)
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Writer = s.out
	spin.Suffix = " Analyzing log..."
	if !quiet {
		spin.Start()
	}
	defer spin.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("incident %s did not finish: %w", id, ctx.Err())

		case ev, ok := <-sub.Events():
			if !ok {
				return nil, fmt.Errorf("event stream closed before incident %s finished", id)
			}
			if ev.IncidentID != id {
				continue
			}
			spin.Suffix = " " + describeEvent(ev)
			if ev.Type == core.EventApprovalRequired {
				spin.Stop()
				if err := s.decide(ctx, id); err != nil {
					return nil, err
				}
				if !quiet {
					spin.Start()
				}
			}
			if ev.Stage.IsTerminal() {
				return s.orch.Get(ctx, id)
			}

		case <-ticker.C:
			inc, err := s.orch.Get(ctx, id)
			if err != nil {
				continue
			}
			if inc.Stage == core.StageAwaitingApproval && !s.decided {
				spin.Stop()
				if err := s.decide(ctx, id); err != nil {
					return nil, err
				}
				if !quiet {
					spin.Start()
				}
			}
			if inc.Stage.IsTerminal() {
				return inc, nil
			}
		}
	}
}

// decide asks for (or assumes) a decision and resumes the incident.
func (s *analyzeSession) decide(ctx context.Context, id string) error {
	if s.decided {
		return nil
	}
	inc, err := s.orch.Get(ctx, id)
	if err != nil {
		return err
	}

	decision := core.DecisionApproved
	if !s.autoApprove {
		if !s.interactive {
			return fmt.Errorf("incident %s needs approval; rerun with --auto-approve or from a file", id)
		}
		renderApprovalPrompt(s.out, inc)
		decision = promptDecision(s.in, s.out)
	} else {
		warningColor.Fprintf(s.out, "Auto-approving %d action(s) for risk %d/10\n", len(inc.PlannedActions), inc.Risk())
	}

	if err := s.orch.Resume(ctx, id, decision); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	s.decided = true
	return nil
}

// promptDecision reads y/n until it gets an answer. EOF counts as a denial.
func promptDecision(in *bufio.Reader, out io.Writer) core.Decision {
	for {
		fmt.Fprint(out, "Approve this plan? [y/N]: ")
		line, err := in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "y", "yes":
			return core.DecisionApproved
		case "n", "no", "":
			return core.DecisionDenied
		}
		if err != nil {
			return core.DecisionDenied
		}
		warningColor.Fprintln(out, "Please answer y or n")
	}
}

func describeEvent(ev core.Event) string {
	switch ev.Type {
	case core.EventAnalysisComplete:
		return fmt.Sprintf("Analysis complete (risk %v), investigating...", ev.Data["risk_score"])
	case core.EventIndicatorInvestigated:
		return fmt.Sprintf("Checked %v", ev.Data["indicator"])
	case core.EventPlanReady:
		return "Mitigation plan ready"
	case core.EventActionExecuted:
		return fmt.Sprintf("Executed %v", ev.Data["action"])
	default:
		return fmt.Sprintf("Stage: %s", ev.Stage)
	}
}
