package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/udpin/internal/core"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaConfig represents Kafka sink configuration.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Async        bool          `mapstructure:"async"`         // optional, default false
	SASL         *KafkaSASL    `mapstructure:"sasl"`          // optional
	TLS          *KafkaTLS     `mapstructure:"tls"`           // optional
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per datagram: key is the source address,
// value the raw payload.
type Kafka struct {
	config    KafkaConfig
	writer    messageWriter
	sessionID string
	local     string

	writtenCount atomic.Uint64
	errorCount   atomic.Uint64
}

func newKafka(options map[string]any) (Sink, error) {
	cfg := KafkaConfig{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := decode(options, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires brokers: %w", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires topic: %w", core.ErrConfigInvalid)
	}
	if _, err := compressionCodec(cfg.Compression); err != nil {
		return nil, err
	}
	if _, err := cfg.dialer(); err != nil {
		return nil, err
	}
	return &Kafka{config: cfg}, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type %q: %w", name, core.ErrConfigInvalid)
	}
}

// Name returns the sink name.
func (k *Kafka) Name() string {
	return "kafka"
}

// Open creates the Kafka writer.
func (k *Kafka) Open(ctx context.Context, info Info) error {
	k.sessionID = info.SessionID
	k.local = info.Local
	if k.writer != nil {
		return nil
	}

	codec, err := compressionCodec(k.config.Compression)
	if err != nil {
		return err
	}
	dialer, err := k.config.dialer()
	if err != nil {
		return err
	}
	k.writer = kafka.NewWriter(kafka.WriterConfig{
		Brokers:          k.config.Brokers,
		Topic:            k.config.Topic,
		Balancer:         &kafka.Hash{}, // same source, same partition
		BatchSize:        k.config.BatchSize,
		BatchTimeout:     k.config.BatchTimeout,
		MaxAttempts:      k.config.MaxAttempts,
		Async:            k.config.Async,
		CompressionCodec: codec,
		Dialer:           dialer,
	})

	slog.Info("kafka sink opened",
		"session_id", info.SessionID,
		"brokers", k.config.Brokers,
		"topic", k.config.Topic,
		"batch_size", k.config.BatchSize,
		"batch_timeout", k.config.BatchTimeout,
		"compression", k.config.Compression,
	)
	return nil
}

// Write publishes p.
func (k *Kafka) Write(ctx context.Context, p *core.Packet) error {
	if p == nil {
		return fmt.Errorf("nil packet")
	}
	if k.writer == nil {
		return fmt.Errorf("kafka sink not open")
	}

	if err := k.writer.WriteMessages(ctx, k.message(p)); err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	k.writtenCount.Add(1)
	return nil
}

func (k *Kafka) message(p *core.Packet) kafka.Message {
	source := p.From.String()
	return kafka.Message{
		Key:   []byte(source),
		Value: p.Data,
		Time:  p.Received,
		Headers: []kafka.Header{
			{Key: "session_id", Value: []byte(k.sessionID)},
			{Key: "source", Value: []byte(source)},
			{Key: "local", Value: []byte(k.local)},
			{Key: "length", Value: []byte(strconv.Itoa(p.Len()))},
		},
	}
}

// Flush is a no-op: the writer flushes on BatchSize/BatchTimeout and on Close.
func (k *Kafka) Flush(ctx context.Context) error {
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	if err != nil {
		slog.Error("error closing kafka writer", "error", err)
	}
	slog.Info("kafka sink closed",
		"session_id", k.sessionID,
		"total_written", k.writtenCount.Load(),
		"total_errors", k.errorCount.Load(),
	)
	return err
}
