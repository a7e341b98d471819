package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the udpin daemon for runtime statistics.

Shows: received, filtered and dropped datagrams, queue occupancy,
keep-alive counters and sink throughput.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), clientFor(cmd), cmd.OutOrStdout())
	},
}

func runStats(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.SessionStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	return printResult(out, "session_stats", resp)
}
