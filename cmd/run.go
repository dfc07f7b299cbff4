package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// newRunCmd creates the 'run' subcommand, which crawls once in the
// foreground. The first interrupt aborts gracefully, the second one triggers
// an emergency stop.
func newRunCmd(c *cli) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one crawl in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			signals := make(chan os.Signal, 2)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)
			return runOnce(cmd.Context(), c, resume, signals, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the saved checkpoint")
	return cmd
}

func runOnce(ctx context.Context, c *cli, resume bool, signals <-chan os.Signal, out io.Writer) error {
	c.svc.Bind(ctx)
	logs, unsubscribe := c.svc.Logs().Subscribe(256)
	defer unsubscribe()

	runID, err := c.svc.StartRun(resume)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	done := c.svc.Done()

	interrupts := 0
	for running := true; running; {
		select {
		case entry := <-logs:
			printLog(out, entry)
		case <-signals:
			interrupts++
			if interrupts == 1 {
				fmt.Fprintln(out, "interrupt: aborting after the current unit (interrupt again to stop now)")
				if err := c.svc.Abort(); err != nil && !errors.Is(err, crawl.ErrNotRunning) {
					c.logger.Warn("abort failed", zap.Error(err))
				}
				continue
			}
			if err := c.svc.EmergencyStop(); err != nil && !errors.Is(err, crawl.ErrNotRunning) {
				c.logger.Warn("emergency stop refused", zap.Error(err))
			}
		case <-done:
			running = false
		}
	}
	for drained := false; !drained; {
		select {
		case entry := <-logs:
			printLog(out, entry)
		default:
			drained = true
		}
	}

	history, err := c.svc.History(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, entry := range history {
		if entry.ID != runID {
			continue
		}
		writeHistory(out, []crawl.HistoryEntry{entry})
		if entry.Status == crawl.RunError {
			return fmt.Errorf("run %s ended with status %s: %s", entry.ID, entry.Status, entry.Reason)
		}
		return nil
	}
	return fmt.Errorf("run %s finished without a history record", runID)
}

func printLog(out io.Writer, entry crawl.LogEntry) {
	fmt.Fprintf(out, "%s [%s] %s\n", entry.Time.Format("15:04:05"), entry.Level, entry.Message)
}
