package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/udpin/internal/core"
)

func testPacket(data string) *core.Packet {
	return &core.Packet{
		Data:     []byte(data),
		From:     netip.MustParseAddrPort("10.0.0.1:5000"),
		Received: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"console", "discard", "file", "kafka"}, Types())

	_, err := New("carrier-pigeon", nil)
	assert.ErrorIs(t, err, core.ErrSinkNotFound)

	s, err := New("discard", nil)
	require.NoError(t, err)
	assert.Equal(t, "discard", s.Name())

	_, err = New("discard", map[string]any{"unexpected": 1})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestConsole(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		data    string
		want    string
	}{
		{
			name: "Text",
			data: "abc",
			want: "[07:08:09.000] 10.0.0.1:5000 len=3 data=61 62 63\n",
		},
		{
			name:    "TextTruncatedPreview",
			options: map[string]any{"preview": "2"},
			data:    "abc",
			want:    "[07:08:09.000] 10.0.0.1:5000 len=3 data=61 62 ...\n",
		},
		{
			name:    "TextNoPreview",
			options: map[string]any{"preview": 0},
			data:    "abc",
			want:    "[07:08:09.000] 10.0.0.1:5000 len=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New("console", tt.options)
			require.NoError(t, err)
			var buf bytes.Buffer
			s.(*Console).out = &buf

			require.NoError(t, s.Open(context.Background(), Info{SessionID: "s1"}))
			require.NoError(t, s.Write(context.Background(), testPacket(tt.data)))
			assert.Equal(t, tt.want, buf.String())
			require.NoError(t, s.Close())
		})
	}
}

func TestConsoleJSON(t *testing.T) {
	s, err := New("console", map[string]any{"format": "json"})
	require.NoError(t, err)
	var buf bytes.Buffer
	s.(*Console).out = &buf

	require.NoError(t, s.Open(context.Background(), Info{SessionID: "s1"}))
	require.NoError(t, s.Write(context.Background(), testPacket("hi")))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "10.0.0.1:5000", got["source"])
	assert.Equal(t, float64(2), got["length"])
	assert.Equal(t, "6869", got["preview"])

	assert.Error(t, s.Write(context.Background(), nil))
}

func TestConsoleInvalidFormat(t *testing.T) {
	_, err := New("console", map[string]any{"format": "xml"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.ts")
	ctx := context.Background()

	s, err := New("file", map[string]any{"path": path, "append": false})
	require.NoError(t, err)
	assert.Error(t, s.Write(ctx, testPacket("early")))

	require.NoError(t, s.Open(ctx, Info{SessionID: "s1"}))
	for _, d := range []string{"one", "two", "three"} {
		require.NoError(t, s.Write(ctx, testPacket(d)))
	}
	require.NoError(t, s.Flush(ctx))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onetwothree", string(got))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// append mode keeps earlier content
	s, err = New("file", map[string]any{"path": path})
	require.NoError(t, err)
	require.NoError(t, s.Open(ctx, Info{}))
	require.NoError(t, s.Write(ctx, testPacket("four")))
	require.NoError(t, s.Close())

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onetwothreefour", string(got))
}

func TestFileRequiresPath(t *testing.T) {
	_, err := New("file", nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestKafkaConfig(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		wantErr bool
	}{
		{name: "nil config", options: nil, wantErr: true},
		{name: "missing brokers", options: map[string]any{"topic": "test"}, wantErr: true},
		{name: "missing topic", options: map[string]any{"brokers": []any{"localhost:9092"}}, wantErr: true},
		{
			name:    "valid minimal config",
			options: map[string]any{"brokers": []any{"localhost:9092"}, "topic": "test-topic"},
		},
		{
			name: "valid full config",
			options: map[string]any{
				"brokers":       []any{"broker1:9092", "broker2:9092"},
				"topic":         "test-topic",
				"batch_size":    200,
				"batch_timeout": "200ms",
				"compression":   "gzip",
				"max_attempts":  5,
				"async":         true,
			},
		},
		{
			name: "invalid compression",
			options: map[string]any{
				"brokers":     []any{"localhost:9092"},
				"topic":       "test-topic",
				"compression": "invalid",
			},
			wantErr: true,
		},
		{
			name: "invalid batch_timeout",
			options: map[string]any{
				"brokers":       []any{"localhost:9092"},
				"topic":         "test-topic",
				"batch_timeout": "invalid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("kafka", tt.options)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	s, err := New("kafka", map[string]any{
		"brokers":       "localhost:9092",
		"topic":         "t",
		"batch_timeout": "250ms",
	})
	require.NoError(t, err)
	cfg := s.(*Kafka).config
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchTimeout)
	assert.Equal(t, defaultCompression, cfg.Compression)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWrite(t *testing.T) {
	ctx := context.Background()
	s, err := New("kafka", map[string]any{"brokers": []string{"localhost:9092"}, "topic": "t"})
	require.NoError(t, err)
	k := s.(*Kafka)
	w := &fakeWriter{}
	k.writer = w

	require.NoError(t, k.Open(ctx, Info{SessionID: "s1", Local: "0.0.0.0:1234"}))
	require.NoError(t, k.Write(ctx, testPacket("payload")))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "10.0.0.1:5000", string(msg.Key))
	assert.Equal(t, "payload", string(msg.Value))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "s1", headers["session_id"])
	assert.Equal(t, "10.0.0.1:5000", headers["source"])
	assert.Equal(t, "7", headers["length"])

	w.err = errors.New("broker down")
	err = k.Write(ctx, testPacket("lost"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broker down"))
	assert.Equal(t, uint64(1), k.errorCount.Load())

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaAuthOptions(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{"brokers": []string{"localhost:9092"}, "topic": "t"}
	}

	opts := base()
	opts["sasl"] = map[string]any{"mechanism": "SCRAM-SHA-512", "username": "u", "password": "p"}
	s, err := New("kafka", opts)
	require.NoError(t, err)
	d, err := s.(*Kafka).config.dialer()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "SCRAM-SHA-512", d.SASLMechanism.Name())

	opts = base()
	opts["sasl"] = map[string]any{"mechanism": "GSSAPI"}
	_, err = New("kafka", opts)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	opts = base()
	opts["tls"] = map[string]any{"insecure_skip_verify": true}
	s, err = New("kafka", opts)
	require.NoError(t, err)
	d, err = s.(*Kafka).config.dialer()
	require.NoError(t, err)
	assert.True(t, d.TLS.InsecureSkipVerify)

	opts = base()
	opts["tls"] = map[string]any{"ca_cert": filepath.Join(t.TempDir(), "missing.pem")}
	_, err = New("kafka", opts)
	assert.Error(t, err)

	d, err = (&KafkaConfig{}).dialer()
	require.NoError(t, err)
	assert.Nil(t, d)
}
