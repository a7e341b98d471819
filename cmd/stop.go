package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the udpin daemon",
	Long: `Stop the udpin daemon gracefully.

This command sends a shutdown request to the running daemon via Unix Domain Socket.
The daemon stops reading, flushes the sink, closes the session and exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), clientFor(cmd), cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.DaemonShutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("daemon_shutdown failed: %s", resp.Error.Message)
	}
	fmt.Fprintln(out, "✓ Shutdown requested")
	return nil
}
