package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/udpin/internal/daemon"
)

var validateCmd = &cobra.Command{
	Use:   "validate <endpoint>",
	Short: "Validate an endpoint against the configuration",
	Long: `Parse an endpoint, apply it to the access defaults of the config file
and print the resulting session configuration as YAML without opening a socket.

Examples:
  udpin validate udp://@:1234
  udpin validate 'udp://10.0.0.1:5000@:6000,kplv=10.0.0.1:5000,string=ping;'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.Context(), daemon.Options{
			ConfigPath: effectiveConfigFile(cmd),
			Endpoint:   args[0],
			DumpPath:   validateDump,
		}, cmd.OutOrStdout())
	},
}

var validateDump string

func init() {
	validateCmd.Flags().StringVar(&validateDump, "dump", "",
		"pcap dump path to include in the output")
}

func runValidate(ctx context.Context, opts daemon.Options, out io.Writer) error {
	d, err := daemon.New(opts)
	if err != nil {
		return err
	}
	sc, err := d.SessionConfig(ctx)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}
