package log

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka log output.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes each log line as one Kafka message.
// The underlying writer is async so logging never waits on the brokers.
type KafkaWriter struct {
	mu     sync.Mutex
	writer messageWriter
	closed bool
}

func NewKafkaWriter(cfg KafkaConfig) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka output requires 'brokers' field")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka output requires 'topic' field")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return newKafkaWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           batchTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}), nil
}

func newKafkaWriter(w messageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

// Write implements io.Writer. p is copied since slog reuses its buffer.
func (kw *KafkaWriter) Write(p []byte) (int, error) {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	if kw.closed {
		return 0, errWriterClosed
	}

	line := bytes.Clone(bytes.TrimRight(p, "\n"))
	if err := kw.writer.WriteMessages(context.Background(), kafka.Message{
		Value: line,
		Time:  time.Now(),
	}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (kw *KafkaWriter) Close() error {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	if kw.closed {
		return nil
	}
	kw.closed = true
	return kw.writer.Close()
}
