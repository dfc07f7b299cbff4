package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newCheckpointCmd groups the checkpoint inspection subcommands.
func newCheckpointCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspects or clears the saved resume checkpoint",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Prints the saved checkpoint as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cp, err := c.svc.Checkpoint(cmd.Context())
				if err != nil {
					return fmt.Errorf("load checkpoint: %w", err)
				}
				if cp == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint")
					return nil
				}
				body, err := json.MarshalIndent(cp, "", "  ")
				if err != nil {
					return fmt.Errorf("encode checkpoint: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Deletes the saved checkpoint",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := c.svc.ClearCheckpoint(cmd.Context()); err != nil {
					return fmt.Errorf("clear checkpoint: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "checkpoint cleared")
				return nil
			},
		},
	)
	return cmd
}
