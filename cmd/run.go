package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/udpin/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run <endpoint>",
	Short: "Run the ingestion daemon in foreground",
	Long: `Run one ingestion session in the foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Resolve the endpoint and open the UDP socket
  4. Forward received datagrams to the configured sink
  5. Start UDS server for CLI control
  6. Start Kafka command consumer (if configured)
  7. Stop on SIGTERM/SIGINT, daemon_shutdown or end of stream (SIGHUP reloads logging)

Examples:
  udpin run udp://@:1234                          # listen on port 1234
  udpin run udp://@239.0.0.1:5000 --sink kafka    # join a multicast group
  udpin run udp://10.0.0.1:5000@:6000,kplv=10.0.0.1:5000,time=3   # NAT keep-alive
  udpin run udp://@:1234 --dump /tmp/in.pcap      # also write a pcap dump`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts := daemon.Options{
			ConfigPath: effectiveConfigFile(cmd),
			SocketPath: socketPath,
			PIDFile:    runPIDFile,
			Endpoint:   args[0],
			Sink:       runSink,
			DumpPath:   runDump,
		}
		if err := runDaemon(opts); err != nil {
			exitWithError("daemon failed", err)
		}
	},
}

var (
	runSink    string
	runDump    string
	runPIDFile string
)

func init() {
	runCmd.Flags().StringVar(&runSink, "sink", "",
		"sink type: console, file, kafka or discard (default: sink.type from config)")
	runCmd.Flags().StringVar(&runDump, "dump", "",
		"write received datagrams to this pcap file")
	runCmd.Flags().StringVarP(&runPIDFile, "pid-file", "p", "",
		"PID file path (default: control.pid_file from config)")
}

func runDaemon(opts daemon.Options) error {
	d, err := daemon.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// blocks until shutdown
	return d.Run()
}
