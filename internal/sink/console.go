package sink

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"firestige.xyz/udpin/internal/core"
)

// ConsoleConfig represents console sink configuration.
type ConsoleConfig struct {
	Format  string `mapstructure:"format"`  // "json" or "text", default "text"
	Preview int    `mapstructure:"preview"` // payload bytes shown as hex, default 16
}

// Console prints one line per packet for debugging.
type Console struct {
	config    ConsoleConfig
	out       io.Writer
	sessionID string
	written   atomic.Uint64
}

func newConsole(options map[string]any) (Sink, error) {
	cfg := ConsoleConfig{Format: "text", Preview: 16}
	if err := decode(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Format != "json" && cfg.Format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text: %w", cfg.Format, core.ErrConfigInvalid)
	}
	if cfg.Preview < 0 {
		cfg.Preview = 0
	}
	return &Console{config: cfg, out: os.Stdout}, nil
}

// Name returns the sink name.
func (c *Console) Name() string {
	return "console"
}

// Open records the session the sink prints for.
func (c *Console) Open(ctx context.Context, info Info) error {
	c.sessionID = info.SessionID
	slog.Info("console sink opened", "session_id", info.SessionID, "format", c.config.Format)
	return nil
}

// Write prints p.
func (c *Console) Write(ctx context.Context, p *core.Packet) error {
	if p == nil {
		return fmt.Errorf("nil packet")
	}
	c.written.Add(1)

	preview := p.Data
	if len(preview) > c.config.Preview {
		preview = preview[:c.config.Preview]
	}

	if c.config.Format == "json" {
		data, err := json.Marshal(map[string]any{
			"session_id": c.sessionID,
			"timestamp":  p.Received.Format("2006-01-02T15:04:05.000Z07:00"),
			"source":     p.From.String(),
			"length":     p.Len(),
			"preview":    hex.EncodeToString(preview),
		})
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		_, err = fmt.Fprintln(c.out, string(data))
		return err
	}

	line := fmt.Sprintf("[%s] %s len=%d", p.Received.Format("15:04:05.000"), p.From, p.Len())
	if len(preview) > 0 {
		line += fmt.Sprintf(" data=% x", preview)
		if len(preview) < p.Len() {
			line += " ..."
		}
	}
	_, err := fmt.Fprintln(c.out, line)
	return err
}

// Flush is a no-op for the console sink.
func (c *Console) Flush(ctx context.Context) error {
	return nil
}

// Close logs the total.
func (c *Console) Close() error {
	slog.Info("console sink closed", "session_id", c.sessionID, "total_written", c.written.Load())
	return nil
}
