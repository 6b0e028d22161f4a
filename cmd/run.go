// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/config"
	"github.com/xkilldash9x/rollcall/internal/credentials"
	"github.com/xkilldash9x/rollcall/internal/observability"
	"github.com/xkilldash9x/rollcall/internal/service"
)

// runFlagKeys maps run flags onto the config keys they override.
var runFlagKeys = map[string]string{
	"match":     "run.default_match",
	"batch":     "run.default_batch",
	"user":      "run.identifier",
	"password":  "run.password",
	"logout":    "batch.logout",
	"hold-open": "batch.hold_open",
	"headless":  "browser.headless",
	"workers":   "batch.workers",
	"report":    "report.path",
}

// newRunCmd creates the `run` command.
func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var action string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one attendance action for a single credential or a batch of credentials",
		Long: `Logs in with each credential, opens the attendance list, finds the course row matching --match
and performs --action on it. A failing credential never stops the batch; the command only fails
when the run cannot be set up at all.`,
		Example: `  rollcall run --match "Basis Data" --action approve_attendance --user dosen@kampus.ac.id --password ...
  rollcall run --match "Basis Data" --action submit_attendance --batch users.csv --workers 2 --report out.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			kind, err := schemas.ParseActionKind(action)
			if err != nil {
				return err
			}
			return runAttendance(cmd.Context(), cmd.OutOrStdout(), factory, cfg, kind, cmd.Flags().Changed("batch"))
		},
	}

	f := runCmd.Flags()
	f.String("match", "", "text identifying the course row (default run.default_match)")
	f.StringVar(&action, "action", schemas.ActionOpenSession.String(), fmt.Sprintf("action to perform, one of %v", schemas.ActionKinds))
	f.StringP("user", "u", "", "identifier for a single-credential run")
	f.StringP("password", "p", "", "password for a single-credential run (or set ROLLCALL_PASSWORD)")
	f.StringP("batch", "b", "", "CSV or XLSX file with username,password[,hari] rows (default run.default_batch)")
	f.Bool("logout", true, "log out after each credential")
	f.Bool("hold-open", false, "keep the browser open after the run until interrupted")
	f.Bool("headless", true, "run the browser without a window")
	f.IntP("workers", "w", 1, "number of credentials processed in parallel, each in its own browser")
	f.StringP("report", "o", "", "write a JSON run report to this path (\"stdout\" or \"-\" for standard output)")
	runCmd.MarkFlagsMutuallyExclusive("user", "batch")
	runCmd.MarkFlagsMutuallyExclusive("password", "batch")

	return runCmd
}

// bindRunFlags binds whichever run flags the executing command defines, so that changed flags take
// precedence over the config file and the environment.
func bindRunFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range runFlagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// runAttendance resolves the credentials, builds the components and runs the batch. Individual
// credential failures are reported but never turn into an error.
func runAttendance(ctx context.Context, out io.Writer, factory service.ComponentFactory, cfg *config.Config, kind schemas.ActionKind, batchRequested bool) error {
	logger := observability.GetLogger()

	match := strings.TrimSpace(cfg.Run.DefaultMatch)
	if match == "" {
		return errors.New("no target given: pass --match or set run.default_match")
	}
	target := schemas.TargetSpec{MatchText: match, Action: kind}

	creds, source, err := resolveCredentials(cfg, batchRequested, logger)
	if err != nil {
		return err
	}

	// 1. Initialize components. A failure here is the only way the command fails.
	components, err := factory.Create(ctx, cfg, source, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize run components: %w", err)
	}
	defer components.Shutdown()

	// 2. Run the batch.
	outcomes, summary, err := components.Orchestrator.Run(ctx, creds, target)
	if err != nil {
		return fmt.Errorf("run could not start: %w", err)
	}

	// 3. Print the outcomes.
	printOutcomes(out, outcomes, summary)

	if cfg.Batch.HoldOpen && ctx.Err() == nil {
		fmt.Fprintln(out, "Browser held open. Press Ctrl+C to exit.")
		components.Orchestrator.HoldOpen(ctx)
	}
	return nil
}

// resolveCredentials returns the credentials to run and a description of where they came from.
// A single credential from the command line takes precedence over the configured batch file unless
// --batch was given explicitly.
func resolveCredentials(cfg *config.Config, batchRequested bool, logger *zap.Logger) ([]credentials.Credential, string, error) {
	if !batchRequested && cfg.Run.Identifier != "" {
		if cfg.Run.Password == "" {
			return nil, "", errors.New("no password given for --user: pass --password or set ROLLCALL_PASSWORD")
		}
		cred := credentials.Credential{
			Identifier: cfg.Run.Identifier,
			Secret:     credentials.NewSecret(cfg.Run.Password),
			Row:        1,
		}
		return []credentials.Credential{cred}, "command line", nil
	}

	path := cfg.Run.DefaultBatch
	if path == "" {
		return nil, "", errors.New("no credentials given: pass --user and --password, or --batch")
	}
	creds, err := credentials.NewLoader(logger).Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load credentials: %w", err)
	}
	logger.Info("Credentials loaded.", zap.String("source", path), zap.Int("count", len(creds)))
	return creds, path, nil
}

func printOutcomes(out io.Writer, outcomes []schemas.SessionOutcome, summary schemas.Summary) {
	for _, o := range outcomes {
		line := fmt.Sprintf("[%d] %-32s %-9s %s", o.Index+1, o.CredentialIdentifier, o.Status, o.StepReached)
		if o.ErrorKind != "" {
			line += fmt.Sprintf(" (%s: %s)", o.ErrorKind, o.ErrorDetail)
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(out, "\nRun %s: %d succeeded, %d failed, %d skipped.\n", summary.RunID, summary.Succeeded, summary.Failed, summary.Skipped)
}
