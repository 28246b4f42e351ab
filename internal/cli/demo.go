package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/harness"
	"github.com/roach88/tether/internal/store"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Database string // journal path; overrides journal.path from the config
}

// DemoResult is the JSON payload of the demo command.
type DemoResult struct {
	harness.TraceSnapshot
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo <scenario.yaml>",
		Short: "Run one delivery scenario and print its trace",
		Long: `Run a scenario between two peers joined by an in-process link.

Every send, completion and link change is printed, followed by what each
peer's handler received. With --db both peers' message histories are
journaled to SQLite and can be inspected with "tether history".

Exit codes:
  0 - Scenario passed
  1 - An expectation or assertion failed
  2 - Command error (unreadable scenario, bad config, etc.)

Examples:
  tether demo testdata/scenarios/live_request_response.yaml
  tether demo testdata/scenarios/file_request.yaml --format json
  tether demo testdata/scenarios/unreachable_context.yaml --db ./tether.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal both peers' messages to this SQLite database")

	return cmd
}

func runDemo(opts *DemoOptions, scenarioPath string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	runOpts := scenarioOptions(cfg, logger)

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal.Path
	}
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer st.Close()
		runOpts = append(runOpts, harness.WithJournal(st.Observer(logger)))
		logger.Info("journaling messages", "path", dbPath)
	}

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	f := newFormatter(cmd, opts.RootOptions)
	report := DemoResult{
		TraceSnapshot: result.Snapshot(scenario.Name),
		Pass:          result.Pass,
		Errors:        result.Errors,
	}

	if f.IsJSON() {
		if result.Pass {
			return f.Success(report)
		}
		if err := f.Failure("E_SCENARIO_FAILED", failureMessage(result), report); err != nil {
			return err
		}
		return NewExitError(ExitFailure, failureMessage(result))
	}

	w := cmd.OutOrStdout()
	printSnapshot(w, report.TraceSnapshot)
	if !result.Pass {
		fmt.Fprintf(w, "✗ %s\n", scenario.Name)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return NewExitError(ExitFailure, failureMessage(result))
	}
	fmt.Fprintf(w, "✓ %s\n", scenario.Name)
	return nil
}

// scenarioOptions applies the configuration to a harness run.
func scenarioOptions(cfg config.Config, logger *slog.Logger) []harness.Option {
	return []harness.Option{
		harness.WithLogger(logger),
		harness.WithTimeoutPolicy(cfg.Timeouts),
		harness.WithPeerOptions(cfg.PeerOptions(nil)...),
	}
}

func failureMessage(r *harness.Result) string {
	return fmt.Sprintf("scenario failed with %d error(s)", len(r.Errors))
}

// printSnapshot writes the human-readable trace.
func printSnapshot(w io.Writer, s harness.TraceSnapshot) {
	fmt.Fprintf(w, "Scenario: %s\n\n", s.ScenarioName)

	fmt.Fprintln(w, "Trace:")
	for _, ev := range s.Trace {
		fmt.Fprintf(w, "  [%d] %s\n", ev.Step, describeEvent(ev))
	}

	fmt.Fprintln(w, "\nReceived:")
	if len(s.Received) == 0 {
		fmt.Fprintln(w, "  (nothing)")
	}
	for _, r := range s.Received {
		line := fmt.Sprintf("  %s <- %s %s via %s", r.Peer, r.ID, r.Kind, r.Channel)
		if r.Payload != "" {
			line += fmt.Sprintf(" %q", r.Payload)
		}
		if len(r.UserInfo) > 0 {
			line += fmt.Sprintf(" %v", r.UserInfo)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func describeEvent(ev harness.TraceEvent) string {
	switch ev.Type {
	case harness.EventReachability:
		if ev.Reachable != nil && *ev.Reachable {
			return "link up"
		}
		return "link down"
	case harness.EventSend:
		return fmt.Sprintf("%s %s %s via %s", ev.Peer, ev.Action, ev.MessageID, ev.Channel)
	case harness.EventCompletion:
		s := fmt.Sprintf("%s %s %s -> %s", ev.Peer, ev.Action, ev.MessageID, ev.Outcome)
		if r := ev.Reply; r != nil {
			switch {
			case r.Confirmation:
				s += fmt.Sprintf(" (confirmed by %s)", r.ID)
			case r.File:
				s += fmt.Sprintf(" (file %s, %d bytes)", r.ID, len(r.Payload))
			default:
				s += fmt.Sprintf(" (reply %s %q)", r.ID, r.Payload)
			}
		}
		return s
	}
	return ev.Type
}
