package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/udpin/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and session status",
	Long: `Query the udpin daemon for its status.

Shows: version, uptime, the session state, endpoint, bind and learned peer,
and the access capabilities.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), clientFor(cmd), cmd.OutOrStdout())
	},
}

func runStatus(ctx context.Context, client ClientInterface, out io.Writer) error {
	calls := []struct {
		key  string
		call func(context.Context) (*command.Response, error)
	}{
		{"daemon", client.DaemonStatus},
		{"session", client.SessionStatus},
		{"capabilities", client.SessionCapabilities},
	}

	result := make(map[string]any, len(calls))
	for _, c := range calls {
		resp, err := c.call(ctx)
		if err != nil {
			return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("%s status failed: %s", c.key, resp.Error.Message)
		}
		result[c.key] = resp.Result
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
