// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/udpin/internal/session"
	"firestige.xyz/udpin/internal/sink"
)

// GlobalConfig represents the top-level global static configuration.
// Maps to the `udpin:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig        `mapstructure:"node" yaml:"node"`
	Control ControlConfig     `mapstructure:"control" yaml:"control"`
	Kafka   GlobalKafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	Access  AccessConfig      `mapstructure:"access" yaml:"access"`
	Sink    SinkConfig        `mapstructure:"sink" yaml:"sink"`
	Metrics MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig         `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname" yaml:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string               `mapstructure:"socket" yaml:"socket"`
	PIDFile string               `mapstructure:"pid_file" yaml:"pid_file"`
	Kafka   CommandChannelConfig `mapstructure:"kafka" yaml:"kafka"`
}

// CommandChannelConfig configures the remote command channel.
// Brokers inherit from GlobalKafkaConfig when empty.
type CommandChannelConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers         []string      `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic           string        `mapstructure:"topic" yaml:"topic"`
	GroupID         string        `mapstructure:"group_id" yaml:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset" yaml:"auto_offset_reset"` // earliest / latest
	CommandTTL      time.Duration `mapstructure:"command_ttl" yaml:"command_ttl"`
}

// ─── Kafka Global Default ───

// GlobalKafkaConfig provides shared Kafka connection defaults.
// The kafka sink and the kafka log output inherit from here when their fields are zero.
type GlobalKafkaConfig struct {
	Brokers []string   `mapstructure:"brokers" yaml:"brokers,omitempty"`
	SASL    SASLConfig `mapstructure:"sasl" yaml:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls" yaml:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Mechanism string `mapstructure:"mechanism" yaml:"mechanism,omitempty"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username" yaml:"username,omitempty"`
	Password  string `mapstructure:"password" yaml:"-"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	CACert             string `mapstructure:"ca_cert" yaml:"ca_cert,omitempty"`
	ClientCert         string `mapstructure:"client_cert" yaml:"client_cert,omitempty"`
	ClientKey          string `mapstructure:"client_key" yaml:"client_key,omitempty"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify,omitempty"`
}

// ─── Access ───

// AccessConfig holds the UDP access defaults the endpoint text builds on.
type AccessConfig struct {
	UDPBuffer          int              `mapstructure:"udp_buffer" yaml:"udp_buffer"`           // queue capacity, bytes
	NetworkCaching     time.Duration    `mapstructure:"network_caching" yaml:"network_caching"` // reported PTS delay
	ReadBuffer         int              `mapstructure:"read_buffer" yaml:"read_buffer"`         // SO_RCVBUF
	LearnPeer          bool             `mapstructure:"learn_peer" yaml:"learn_peer"`
	MulticastInterface string           `mapstructure:"multicast_interface" yaml:"multicast_interface,omitempty"`
	KeepAlive          KeepAliveConfig  `mapstructure:"keepalive" yaml:"keepalive"`
	RawCapture         RawCaptureConfig `mapstructure:"raw_capture" yaml:"raw_capture"`
}

// KeepAliveConfig holds keep-alive defaults; kplv= in the endpoint enables it.
type KeepAliveConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Payload  string        `mapstructure:"payload" yaml:"payload"`
	Length   int           `mapstructure:"length" yaml:"length"`
	Report   bool          `mapstructure:"report" yaml:"report"`
}

// RawCaptureConfig configures the pcap dump of received datagrams.
type RawCaptureConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Sink ───

// SinkConfig selects the downstream sink and its options.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level" yaml:"level"`             // debug / info / warn / error
	Format     string           `mapstructure:"format" yaml:"format"`           // json / text / pattern
	Pattern    string           `mapstructure:"pattern" yaml:"pattern"`         // used by format=pattern
	TimeFormat string           `mapstructure:"time_format" yaml:"time_format"` // used by format=pattern
	Outputs    LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File  FileOutputConfig  `mapstructure:"file" yaml:"file"`
	Loki  LokiOutputConfig  `mapstructure:"loki" yaml:"loki"`
	Kafka KafkaOutputConfig `mapstructure:"kafka" yaml:"kafka"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`   // MB
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Labels       map[string]string `mapstructure:"labels" yaml:"labels,omitempty"`
	BatchSize    int               `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration     `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// KafkaOutputConfig configures Kafka log output.
// Brokers inherit from GlobalKafkaConfig when empty.
type KafkaOutputConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic   string   `mapstructure:"topic" yaml:"topic,omitempty"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `udpin: ...`.
type configRoot struct {
	Udpin GlobalConfig `mapstructure:"udpin"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `udpin:` as root key; env vars map through the key
// replacer (e.g., key "udpin.access.udp_buffer" → env "UDPIN_ACCESS_UDP_BUFFER").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Udpin

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "udpin." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("udpin.control.pid_file", "/var/run/udpin.pid")
	v.SetDefault("udpin.control.socket", "/var/run/udpin.sock")
	v.SetDefault("udpin.control.kafka.enabled", false)
	v.SetDefault("udpin.control.kafka.topic", "udpin-commands")
	v.SetDefault("udpin.control.kafka.group_id", "udpin")
	v.SetDefault("udpin.control.kafka.auto_offset_reset", "latest")
	v.SetDefault("udpin.control.kafka.command_ttl", "5m")

	// Access defaults
	v.SetDefault("udpin.access.udp_buffer", session.DefaultQueueCapacity)
	v.SetDefault("udpin.access.network_caching", session.DefaultCaching)
	v.SetDefault("udpin.access.read_buffer", 2*1024*1024)
	v.SetDefault("udpin.access.learn_peer", true)
	v.SetDefault("udpin.access.multicast_interface", "")
	v.SetDefault("udpin.access.keepalive.interval", session.DefaultKeepAliveInterval)
	v.SetDefault("udpin.access.keepalive.payload", session.DefaultKeepAlivePayload)
	v.SetDefault("udpin.access.keepalive.length", session.DefaultKeepAliveLength)
	v.SetDefault("udpin.access.keepalive.report", true)
	v.SetDefault("udpin.access.raw_capture.enabled", false)
	v.SetDefault("udpin.access.raw_capture.path", "udpin.pcap")

	// Sink defaults
	v.SetDefault("udpin.sink.type", "console")

	// Log defaults
	v.SetDefault("udpin.log.level", "info")
	v.SetDefault("udpin.log.format", "json")
	v.SetDefault("udpin.log.pattern", "%time [%level] %msg %field")
	v.SetDefault("udpin.log.time_format", "2006-01-02 15:04:05.000")
	v.SetDefault("udpin.log.outputs.file.enabled", false)
	v.SetDefault("udpin.log.outputs.file.path", "/var/log/udpin/udpin.log")
	v.SetDefault("udpin.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("udpin.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("udpin.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("udpin.log.outputs.file.rotation.compress", true)
	v.SetDefault("udpin.log.outputs.loki.enabled", false)
	v.SetDefault("udpin.log.outputs.loki.batch_size", 100)
	v.SetDefault("udpin.log.outputs.loki.batch_timeout", "5s")
	v.SetDefault("udpin.log.outputs.kafka.enabled", false)
	v.SetDefault("udpin.log.outputs.kafka.topic", "udpin-logs")

	// Metrics defaults
	v.SetDefault("udpin.metrics.enabled", true)
	v.SetDefault("udpin.metrics.listen", ":9091")
	v.SetDefault("udpin.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Access validation ──
	a := &cfg.Access
	if a.UDPBuffer <= 0 {
		return fmt.Errorf("access.udp_buffer must be positive, got %d", a.UDPBuffer)
	}
	if a.NetworkCaching < 0 {
		return fmt.Errorf("access.network_caching must not be negative")
	}
	if a.KeepAlive.Interval <= 0 {
		return fmt.Errorf("access.keepalive.interval must be positive")
	}
	if len(a.KeepAlive.Payload) > session.MaxKeepAlivePayload {
		return fmt.Errorf("access.keepalive.payload longer than %d bytes", session.MaxKeepAlivePayload)
	}
	if a.KeepAlive.Length < 0 || a.KeepAlive.Length > session.MaxKeepAliveLength {
		return fmt.Errorf("access.keepalive.length must be in 0..%d", session.MaxKeepAliveLength)
	}

	// ── Sink validation ──
	known := false
	for _, t := range sink.Types() {
		if t == cfg.Sink.Type {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown sink.type %q (one of %s)", cfg.Sink.Type, strings.Join(sink.Types(), "/"))
	}

	// ── Kafka inheritance ──
	applyKafkaInheritance(cfg)

	if cfg.Log.Outputs.Kafka.Enabled && len(cfg.Log.Outputs.Kafka.Brokers) == 0 {
		return fmt.Errorf("log.outputs.kafka.brokers is required when log.outputs.kafka.enabled=true")
	}
	if cc := cfg.Control.Kafka; cc.Enabled {
		if len(cc.Brokers) == 0 {
			return fmt.Errorf("control.kafka.brokers is required when control.kafka.enabled=true")
		}
		switch cc.AutoOffsetReset {
		case "earliest", "latest":
		default:
			return fmt.Errorf("invalid control.kafka.auto_offset_reset %q (must be earliest/latest)", cc.AutoOffsetReset)
		}
	}

	return nil
}

// applyKafkaInheritance fills empty Kafka brokers in the kafka sink options,
// the kafka log output and the command channel from the global udpin.kafka section.
func applyKafkaInheritance(cfg *GlobalConfig) {
	global := &cfg.Kafka

	if cfg.Sink.Type == "kafka" {
		if cfg.Sink.Options == nil {
			cfg.Sink.Options = map[string]any{}
		}
		if _, ok := cfg.Sink.Options["brokers"]; !ok && len(global.Brokers) > 0 {
			cfg.Sink.Options["brokers"] = global.Brokers
		}
		if _, ok := cfg.Sink.Options["sasl"]; !ok && global.SASL.Enabled {
			cfg.Sink.Options["sasl"] = map[string]any{
				"mechanism": global.SASL.Mechanism,
				"username":  global.SASL.Username,
				"password":  global.SASL.Password,
			}
		}
		if _, ok := cfg.Sink.Options["tls"]; !ok && global.TLS.Enabled {
			cfg.Sink.Options["tls"] = map[string]any{
				"ca_cert":              global.TLS.CACert,
				"client_cert":          global.TLS.ClientCert,
				"client_key":           global.TLS.ClientKey,
				"insecure_skip_verify": global.TLS.InsecureSkipVerify,
			}
		}
	}

	if lk := &cfg.Log.Outputs.Kafka; len(lk.Brokers) == 0 {
		lk.Brokers = global.Brokers
	}
	if cc := &cfg.Control.Kafka; len(cc.Brokers) == 0 {
		cc.Brokers = global.Brokers
	}
}

// ToSessionConfig maps the access section onto session defaults. The
// endpoint text is applied on top of the result.
func (cfg *GlobalConfig) ToSessionConfig() session.Config {
	sc := session.DefaultConfig()
	a := cfg.Access

	sc.QueueCapacity = a.UDPBuffer
	sc.Caching = a.NetworkCaching
	sc.LearnPeer = a.LearnPeer
	sc.KeepAlive.Interval = a.KeepAlive.Interval
	sc.KeepAlive.Payload = a.KeepAlive.Payload
	sc.KeepAlive.Length = a.KeepAlive.Length
	sc.KeepAlive.Report = a.KeepAlive.Report
	sc.RawCapture.Enabled = a.RawCapture.Enabled
	sc.RawCapture.Path = a.RawCapture.Path
	return sc
}
