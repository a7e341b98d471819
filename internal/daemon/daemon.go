// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/udpin/internal/command"
	"firestige.xyz/udpin/internal/config"
	"firestige.xyz/udpin/internal/endpoint"
	logpkg "firestige.xyz/udpin/internal/log"
	"firestige.xyz/udpin/internal/metrics"
	"firestige.xyz/udpin/internal/pipeline"
	"firestige.xyz/udpin/internal/session"
	"firestige.xyz/udpin/internal/sink"
)

// drainTimeout bounds how long Stop waits for the pipeline to flush its sink.
const drainTimeout = 5 * time.Second

// Options are the command-line inputs of a daemon run.
type Options struct {
	ConfigPath string
	SocketPath string // overrides control.socket when set
	PIDFile    string // overrides control.pid_file when set
	Endpoint   string
	Sink       string // overrides sink.type when set
	DumpPath   string // enables raw capture to this pcap file
}

// Daemon runs one ingestion session, its pipeline and the control plane.
type Daemon struct {
	config *config.GlobalConfig
	opts   Options

	session       *session.Session
	pipeline      *pipeline.Pipeline
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	ctx            context.Context
	cancel         context.CancelFunc
	pipelineCancel context.CancelFunc
	pipelineDone   chan error
	consumerDone   chan struct{}
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
	stopOnce       sync.Once
	sigChan        chan os.Signal
	pidWritten     bool
}

// New loads the configuration and applies the command-line overrides.
func New(opts Options) (*Daemon, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.SocketPath != "" {
		cfg.Control.Socket = opts.SocketPath
	}
	if opts.PIDFile != "" {
		cfg.Control.PIDFile = opts.PIDFile
	}
	if opts.Sink != "" && opts.Sink != cfg.Sink.Type {
		cfg.Sink.Type = opts.Sink
		cfg.Sink.Options = nil
		// re-run inheritance for the new sink type
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return nil, fmt.Errorf("invalid sink override: %w", err)
		}
	}

	d := &Daemon{
		config:       cfg,
		opts:         opts,
		pipelineDone: make(chan error, 1),
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Config returns the effective configuration.
func (d *Daemon) Config() *config.GlobalConfig {
	return d.config
}

// SessionConfig resolves the endpoint against the configured access defaults.
func (d *Daemon) SessionConfig(ctx context.Context) (session.Config, error) {
	base := d.config.ToSessionConfig()
	if d.opts.DumpPath != "" {
		base.RawCapture.Enabled = true
		base.RawCapture.Path = d.opts.DumpPath
	}
	return endpoint.Resolve(ctx, d.opts.Endpoint, base)
}

// Start initializes and starts all daemon components. On error every
// component started so far is stopped again.
func (d *Daemon) Start() (err error) {
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting udpin daemon",
		"version", command.Version,
		"hostname", d.config.Node.Hostname,
		"config", d.opts.ConfigPath,
		"socket", d.config.Control.Socket,
		"endpoint", d.opts.Endpoint,
	)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.startSession(); err != nil {
		return err
	}

	if err := d.startPipeline(); err != nil {
		return err
	}

	d.cmdHandler = command.NewCommandHandler(d.session, d.pipeline)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	d.udsServer = command.NewUDSServer(d.config.Control.Socket, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("uds server failed", "error", err)
		}
	}()

	if d.config.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// UDS control still works
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	slog.Info("daemon started successfully", "session_id", d.session.ID())
	return nil
}

func (d *Daemon) startSession() error {
	sc, err := d.SessionConfig(d.ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve endpoint %q: %w", d.opts.Endpoint, err)
	}

	opener := endpoint.Listener{Options: endpoint.SocketOptions{
		ReadBuffer:         d.config.Access.ReadBuffer,
		MulticastInterface: d.config.Access.MulticastInterface,
	}}
	// Open starts the workers
	sess, err := session.Open(d.ctx, sc, opener)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	d.session = sess
	return nil
}

func (d *Daemon) startPipeline() error {
	sk, err := sink.New(d.config.Sink.Type, d.config.Sink.Options)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	pl, err := pipeline.New(pipeline.Config{
		SessionID: d.session.ID(),
		Local:     d.session.LocalAddr().String(),
		Source:    d.session,
		Sink:      sk,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	d.pipeline = pl

	var pctx context.Context
	pctx, d.pipelineCancel = context.WithCancel(d.ctx)
	go func() {
		d.pipelineDone <- pl.Run(pctx)
	}()
	return nil
}

// Stop performs graceful shutdown of all daemon components. Safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Pipeline: stop reading and flush the sink
	if d.pipelineCancel != nil {
		d.pipelineCancel()
		select {
		case err := <-d.pipelineDone:
			if err != nil {
				slog.Error("pipeline stopped with error", "error", err)
			}
			// keep the result visible to Run
			d.pipelineDone <- err
		case <-time.After(drainTimeout):
			slog.Warn("pipeline did not stop in time", "timeout", drainTimeout)
		}
	}

	// 2. Session: join the workers and release the socket
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			slog.Error("error closing session", "session_id", d.session.ID(), "error", err)
		}
	}

	// 3. Control plane
	d.cancel()
	if d.kafkaConsumer != nil {
		<-d.consumerDone
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 4. Metrics
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Close()
}

// Run blocks until shutdown is triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS/Kafka
//  3. the session reaching end of stream
//
// SIGHUP reloads the log configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case err := <-d.pipelineDone:
			d.pipelineDone <- err
			slog.Info("pipeline finished", "error", err)
			d.Stop()
			return err
		}
	}
}

// Reload reloads the log section of the configuration file. Everything
// else needs a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.opts.ConfigPath)

	newConfig, err := config.Load(d.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	d.config.Log = newConfig.Log

	requiresRestart := []string{}
	if newConfig.Access != d.config.Access {
		requiresRestart = append(requiresRestart, "access")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if newConfig.Sink.Type != d.config.Sink.Type {
		requiresRestart = append(requiresRestart, "sink")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", []string{"log"},
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown asks Run to stop. Safe to call more than once.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.Control.Kafka,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	d.kafkaConsumer = consumer
	d.consumerDone = make(chan struct{})
	go func() {
		defer close(d.consumerDone)
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

// SessionID returns the running session's ID.
func (d *Daemon) SessionID() string {
	if d.session == nil {
		return ""
	}
	return d.session.ID()
}

func (d *Daemon) writePIDFile() error {
	path := d.config.Control.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	d.pidWritten = true
	slog.Debug("PID file written", "path", path, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	path := d.config.Control.PIDFile
	if !d.pidWritten {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}
