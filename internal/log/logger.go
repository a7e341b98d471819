// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/udpin/internal/config"
)

var (
	mu      sync.Mutex
	current *MultiWriter
)

// Init initializes the global logger based on configuration.
// Outputs opened by a previous Init are closed once the new logger is installed.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// stdout is always included
	out := NewMultiWriter().Add(os.Stdout)

	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			out.Close()
			return fmt.Errorf("failed to create file output: %w", err)
		}
		out.Add(w)
	}

	if cfg.Outputs.Loki.Enabled {
		w, err := createLokiWriter(cfg.Outputs.Loki)
		if err != nil {
			out.Close()
			return fmt.Errorf("failed to create loki output: %w", err)
		}
		out.Add(w)
	}

	if cfg.Outputs.Kafka.Enabled {
		w, err := createKafkaWriter(cfg.Outputs.Kafka)
		if err != nil {
			out.Close()
			return fmt.Errorf("failed to create kafka output: %w", err)
		}
		out.Add(w)
	}

	handler, err := newHandler(cfg, out, &slog.HandlerOptions{Level: level})
	if err != nil {
		out.Close()
		return err
	}

	slog.SetDefault(slog.New(handler))

	mu.Lock()
	prev := current
	current = out
	mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

// Close flushes and closes the outputs opened by Init.
func Close() error {
	mu.Lock()
	out := current
	current = nil
	mu.Unlock()
	if out == nil {
		return nil
	}
	return out.Close()
}

func newHandler(cfg config.LogConfig, w io.Writer, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	case "pattern":
		return NewPatternHandler(w, cfg.Pattern, cfg.TimeFormat, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json, text or pattern)", cfg.Format)
	}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.WriteCloser, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

func createLokiWriter(lc config.LokiOutputConfig) (io.WriteCloser, error) {
	if lc.Endpoint == "" {
		return nil, fmt.Errorf("loki output requires 'endpoint' field")
	}
	return NewLokiWriter(LokiConfig{
		Endpoint:      lc.Endpoint,
		Labels:        lc.Labels,
		BatchSize:     lc.BatchSize,
		FlushInterval: lc.BatchTimeout,
	})
}

func createKafkaWriter(kc config.KafkaOutputConfig) (io.WriteCloser, error) {
	return NewKafkaWriter(KafkaConfig{
		Brokers: kc.Brokers,
		Topic:   kc.Topic,
	})
}
