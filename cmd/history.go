package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// newHistoryCmd creates the 'history' subcommand.
func newHistoryCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Lists past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.svc.History(cmd.Context())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			writeHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many runs (0 for all)")
	return cmd
}

func writeHistory(out io.Writer, entries []crawl.HistoryEntry) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATUS\tINSERTED\tSKIPPED\tERRORS\tREQUESTS\tSUCCESS\tREASON")
	for _, e := range entries {
		s := e.Stats
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.1f%%\t%s\n",
			e.ID,
			e.StartedAt.Format(time.RFC3339),
			e.EndedAt.Sub(e.StartedAt).Round(time.Millisecond),
			e.Status,
			s.Inserted, s.Skipped, s.Errors, s.TotalRequests, s.SuccessRate(),
			e.Reason,
		)
	}
	_ = tw.Flush()
}
