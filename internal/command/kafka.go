package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/udpin/internal/config"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "node-01",
//	  "command":    "daemon_shutdown",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { ... }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // Node hostname or "*" for broadcast
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches them to the handler.
type KafkaCommandConsumer struct {
	cfg      config.CommandChannelConfig
	hostname string // local node hostname for target matching
	reader   messageReader
	handler  *CommandHandler
	ttl      time.Duration // stale-command rejection
	backoff  time.Duration
}

// NewKafkaCommandConsumer creates a consumer for the command topic.
func NewKafkaCommandConsumer(cfg config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	var startOffset int64
	switch cfg.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	case "", "latest":
		startOffset = kafka.LastOffset
	default:
		return nil, fmt.Errorf("invalid auto_offset_reset %q", cfg.AutoOffsetReset)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
	return newKafkaCommandConsumer(cfg, hostname, reader, handler), nil
}

func newKafkaCommandConsumer(cfg config.CommandChannelConfig, hostname string, r messageReader, handler *CommandHandler) *KafkaCommandConsumer {
	ttl := cfg.CommandTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KafkaCommandConsumer{
		cfg:      cfg,
		hostname: hostname,
		reader:   r,
		handler:  handler,
		ttl:      ttl,
		backoff:  5 * time.Second,
	}
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
		"hostname", c.hostname,
		"ttl", c.ttl,
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("kafka command consumer stopped", "reason", ctx.Err())
				return ctx.Err()
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"hostname", c.hostname,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if !kCmd.Timestamp.IsZero() && time.Since(kCmd.Timestamp) > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"age", time.Since(kCmd.Timestamp),
			"ttl", c.ttl,
		)
		return nil
	}

	slog.Info("received kafka command",
		"command", kCmd.Command,
		"request_id", kCmd.RequestID,
		"target", kCmd.Target,
		"version", kCmd.Version,
	)

	resp := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})
	if resp.Error != nil {
		return fmt.Errorf("command %s failed: %s", kCmd.Command, resp.Error.Message)
	}
	return nil
}

// Stop closes the reader. Safe to call more than once.
func (c *KafkaCommandConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader := c.reader
	c.reader = nil
	slog.Info("closing kafka command consumer")
	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
