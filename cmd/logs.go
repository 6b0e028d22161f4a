// File: cmd/logs.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/internal/observability"
)

// newLogsCmd creates the `logs` command, which prints the audit trail.
func newLogsCmd() *cobra.Command {
	var (
		follow bool
		lines  int
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the audit log of past runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			path, err := homedir.Expand(cfg.Audit.File)
			if err != nil {
				return fmt.Errorf("failed to expand audit log path: %w", err)
			}
			return printAuditLog(cmd.Context(), cmd.OutOrStdout(), path, lines, follow)
		},
	}

	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries as they are written")
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to print (0 prints everything)")
	return logsCmd
}

// printAuditLog writes the last n lines of the file at path to out. With follow, it then streams new
// lines until ctx is cancelled.
func printAuditLog(ctx context.Context, out io.Writer, path string, n int, follow bool) error {
	// Read to EOF once to find the trailing lines.
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	var (
		last []string
		end  int64
	)
	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		end += int64(len(line.Text)) + 1
		last = append(last, line.Text)
		if n > 0 && len(last) > n {
			last = last[1:]
		}
	}
	t.Cleanup()

	for _, l := range last {
		fmt.Fprintln(out, l)
	}
	if !follow {
		return nil
	}

	ft, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: end, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow audit log: %w", err)
	}
	defer func() {
		_ = ft.Stop()
		ft.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-ft.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				observability.GetLogger().Warn("Error reading from audit log.", zap.Error(line.Err))
				continue
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
