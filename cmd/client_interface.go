package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/udpin/internal/command"
	"firestige.xyz/udpin/internal/config"
)

const clientTimeout = 10 * time.Second

// ClientInterface is the part of the UDS client the commands need.
type ClientInterface interface {
	SessionStatus(ctx context.Context) (*command.Response, error)
	SessionStats(ctx context.Context) (*command.Response, error)
	SessionCapabilities(ctx context.Context) (*command.Response, error)
	DaemonStatus(ctx context.Context) (*command.Response, error)
	DaemonShutdown(ctx context.Context) (*command.Response, error)
}

// newClient is swapped out by tests.
var newClient = func(socket string) ClientInterface {
	return command.NewUDSClient(socket, clientTimeout)
}

// clientFor connects to the socket given by --socket, or the one named in
// the config file.
func clientFor(cmd *cobra.Command) ClientInterface {
	return newClient(resolveSocket(cmd))
}

func resolveSocket(cmd *cobra.Command) string {
	if socketPath != "" {
		return socketPath
	}
	cfg, err := config.Load(effectiveConfigFile(cmd))
	if err != nil {
		slog.Debug("using default socket path", "error", err)
		cfg, _ = config.Load("")
	}
	return cfg.Control.Socket
}

// printResult writes the result of a successful call as indented JSON.
func printResult(out io.Writer, method string, resp *command.Response) error {
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	data, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
