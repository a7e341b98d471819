package session

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/udpin/internal/core"
)

// Defaults applied by DefaultConfig.
const (
	DefaultBindPort          = 1234
	DefaultQueueCapacity     = 0x400000 // 4 MiB
	DefaultCaching           = 1000 * time.Millisecond
	DefaultKeepAliveInterval = 3 * time.Second
	DefaultKeepAlivePayload  = "helloword"
	DefaultKeepAliveLength   = 10

	// IntervalUnit is the unit of the time= endpoint token.
	IntervalUnit = 100 * time.Millisecond

	MaxKeepAlivePayload = 30
	MaxKeepAliveLength  = 64
)

// Config is the session configuration. It is immutable once the session
// has been created; workers only read it.
type Config struct {
	// Network is one of udp, udp4 or udp6.
	Network string `yaml:"network"`
	// Endpoint is the text the config was resolved from, if any.
	Endpoint string `yaml:"endpoint,omitempty"`

	Bind netip.AddrPort `yaml:"bind"`
	// Remote is the server address: a multicast group to join or a
	// unicast source filter. Zero when absent.
	Remote netip.AddrPort `yaml:"remote"`

	QueueCapacity int           `yaml:"queue_capacity"`
	Caching       time.Duration `yaml:"caching"`
	LearnPeer     bool          `yaml:"learn_peer"`

	// Probe is the nat= destination that receives one datagram at start.
	Probe netip.AddrPort `yaml:"probe"`

	KeepAlive  KeepAliveConfig  `yaml:"keepalive"`
	RawCapture RawCaptureConfig `yaml:"raw_capture"`
}

// KeepAliveConfig controls the keep-alive worker.
type KeepAliveConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Destination netip.AddrPort `yaml:"destination"`
	Interval    time.Duration  `yaml:"interval"`
	Payload     string         `yaml:"payload"`
	Length      int            `yaml:"length"`
	Report      bool           `yaml:"report"`
}

// RawCaptureConfig enables the pcap dump of received datagrams.
type RawCaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// DefaultConfig returns a config listening on the wildcard address and the
// default port with keep-alive disabled.
func DefaultConfig() Config {
	return Config{
		Network:       "udp",
		Bind:          netip.AddrPortFrom(netip.IPv4Unspecified(), DefaultBindPort),
		QueueCapacity: DefaultQueueCapacity,
		Caching:       DefaultCaching,
		LearnPeer:     true,
		KeepAlive: KeepAliveConfig{
			Interval: DefaultKeepAliveInterval,
			Payload:  DefaultKeepAlivePayload,
			Length:   DefaultKeepAliveLength,
			Report:   true,
		},
	}
}

// Validate checks the config for values the workers cannot run with.
func (c *Config) Validate() error {
	switch c.Network {
	case "udp", "udp4", "udp6":
	default:
		return fmt.Errorf("unsupported network %q: %w", c.Network, core.ErrConfigInvalid)
	}
	if !c.Bind.IsValid() {
		return fmt.Errorf("bind address is required: %w", core.ErrConfigInvalid)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d: %w", c.QueueCapacity, core.ErrConfigInvalid)
	}
	if c.Caching < 0 {
		return fmt.Errorf("caching must not be negative: %w", core.ErrConfigInvalid)
	}
	if c.RawCapture.Enabled && c.RawCapture.Path == "" {
		return fmt.Errorf("raw capture enabled without a path: %w", core.ErrConfigInvalid)
	}
	return c.KeepAlive.validate()
}

func (k *KeepAliveConfig) validate() error {
	if !k.Enabled {
		return nil
	}
	if !k.Destination.IsValid() {
		return fmt.Errorf("keep-alive destination is required: %w", core.ErrConfigInvalid)
	}
	if k.Interval <= 0 {
		return fmt.Errorf("keep-alive interval must be positive, got %s: %w", k.Interval, core.ErrConfigInvalid)
	}
	if len(k.Payload) > MaxKeepAlivePayload {
		return fmt.Errorf("keep-alive payload longer than %d bytes: %w", MaxKeepAlivePayload, core.ErrConfigInvalid)
	}
	if k.Length < 0 || k.Length > MaxKeepAliveLength {
		return fmt.Errorf("keep-alive length %d out of range 0..%d: %w", k.Length, MaxKeepAliveLength, core.ErrConfigInvalid)
	}
	return nil
}

// Bytes returns the liveness payload: Payload padded with NULs or
// truncated to Length.
func (k *KeepAliveConfig) Bytes() []byte {
	b := make([]byte, k.Length)
	copy(b, k.Payload)
	return b
}

// IsMulticast reports whether Remote is a multicast group.
func (c *Config) IsMulticast() bool {
	return c.Remote.IsValid() && c.Remote.Addr().IsMulticast()
}

// SourceFilter returns the unicast remote used to filter senders.
func (c *Config) SourceFilter() (netip.AddrPort, bool) {
	if !c.Remote.IsValid() || c.IsMulticast() {
		return netip.AddrPort{}, false
	}
	return c.Remote, true
}
