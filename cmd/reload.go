package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"firestige.xyz/udpin/internal/config"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload logging configuration",
	Long: `Send SIGHUP to the running daemon found through its PID file.

Only the log section is applied without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile := reloadPIDFile
		if pidFile == "" {
			cfg, err := config.Load(effectiveConfigFile(cmd))
			if err != nil {
				return err
			}
			pidFile = cfg.Control.PIDFile
		}
		return runReload(pidFile, cmd.OutOrStdout())
	},
}

var reloadPIDFile string

// signalProcess is swapped out by tests.
var signalProcess = func(pid int) error {
	return unix.Kill(pid, unix.SIGHUP)
}

func init() {
	reloadCmd.Flags().StringVarP(&reloadPIDFile, "pid-file", "p", "",
		"PID file path (default: control.pid_file from config)")
}

func runReload(pidFile string, out io.Writer) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid PID file %s: %q", pidFile, strings.TrimSpace(string(data)))
	}
	if err := signalProcess(pid); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reload requested")
	return nil
}
