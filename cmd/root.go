// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/udpin/internal/command"
)

const defaultConfigFile = "/etc/udpin/config.yml"

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "udpin",
	Short: "udpin - UDP datagram ingestion daemon",
	Long: `udpin receives UDP datagrams from a unicast or multicast endpoint,
queues them under a byte budget and forwards them to a sink (console, file,
kafka or discard).

Features:
  - Endpoint syntax: udp://[server[:port]][@[bind][:port]][,option...]
  - Multicast group join and unicast source filtering
  - NAT keep-alive with peer learning
  - Raw pcap dump of received datagrams
  - Local control via Unix Domain Socket, remote control via Kafka`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile,
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"daemon socket path (default: control.socket from config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
}

// effectiveConfigFile falls back to built-in defaults when the default
// config file is not installed. An explicit --config must exist.
func effectiveConfigFile(cmd *cobra.Command) string {
	if cmd.Flags().Changed("config") || configFile != defaultConfigFile {
		return configFile
	}
	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return configFile
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
