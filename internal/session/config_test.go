package session

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/udpin/internal/core"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, uint16(1234), cfg.Bind.Port())
	assert.Equal(t, 4194304, cfg.QueueCapacity)
	assert.Equal(t, time.Second, cfg.Caching)
	assert.False(t, cfg.KeepAlive.Enabled)
	assert.Equal(t, 3*time.Second, cfg.KeepAlive.Interval)
	assert.Equal(t, []byte("helloword\x00"), cfg.KeepAlive.Bytes())
}

func TestKeepAliveBytes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		length  int
		want    []byte
	}{
		{"Exact", "ping", 4, []byte("ping")},
		{"Padded", "ping", 6, []byte("ping\x00\x00")},
		{"Truncated", "helloword", 5, []byte("hello")},
		{"Empty", "ping", 0, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := KeepAliveConfig{Payload: tt.payload, Length: tt.length}
			assert.Equal(t, tt.want, k.Bytes())
		})
	}
}

func TestConfigValidate(t *testing.T) {
	dst := netip.MustParseAddrPort("10.0.0.5:7000")
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"BadNetwork", func(c *Config) { c.Network = "tcp" }},
		{"NoBind", func(c *Config) { c.Bind = netip.AddrPort{} }},
		{"ZeroCapacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"NegativeCaching", func(c *Config) { c.Caching = -time.Second }},
		{"CaptureWithoutPath", func(c *Config) { c.RawCapture.Enabled = true }},
		{"KeepAliveNoDestination", func(c *Config) { c.KeepAlive.Enabled = true }},
		{"KeepAliveZeroInterval", func(c *Config) {
			c.KeepAlive.Enabled = true
			c.KeepAlive.Destination = dst
			c.KeepAlive.Interval = 0
		}},
		{"KeepAlivePayloadTooLong", func(c *Config) {
			c.KeepAlive.Enabled = true
			c.KeepAlive.Destination = dst
			c.KeepAlive.Payload = "0123456789012345678901234567890"
		}},
		{"KeepAliveLengthTooLarge", func(c *Config) {
			c.KeepAlive.Enabled = true
			c.KeepAlive.Destination = dst
			c.KeepAlive.Length = 65
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), core.ErrConfigInvalid)
		})
	}
}

func TestSourceFilter(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := cfg.SourceFilter()
	assert.False(t, ok)

	cfg.Remote = netip.MustParseAddrPort("239.0.0.1:5000")
	assert.True(t, cfg.IsMulticast())
	_, ok = cfg.SourceFilter()
	assert.False(t, ok)

	cfg.Remote = netip.MustParseAddrPort("10.0.0.1:0")
	f, ok := cfg.SourceFilter()
	assert.True(t, ok)
	assert.True(t, matchSource(f, netip.MustParseAddrPort("10.0.0.1:9999")))
	assert.False(t, matchSource(f, netip.MustParseAddrPort("10.0.0.2:9999")))

	f = netip.MustParseAddrPort("10.0.0.1:5000")
	assert.True(t, matchSource(f, netip.MustParseAddrPort("10.0.0.1:5000")))
	assert.False(t, matchSource(f, netip.MustParseAddrPort("10.0.0.1:5001")))
}

func TestPeerStateFirstWins(t *testing.T) {
	var p PeerState
	_, ok := p.Load()
	assert.False(t, ok)

	a := netip.MustParseAddrPort("10.0.0.1:1000")
	b := netip.MustParseAddrPort("10.0.0.2:2000")
	assert.True(t, p.Learn(a))
	assert.False(t, p.Learn(b))

	got, ok := p.Load()
	assert.True(t, ok)
	assert.Equal(t, a, got)
}

func TestReportRecord(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x4B, 0, 0, 0, 0, 0, 1}, reportRecord(1))
	assert.Equal(t, []byte{0x01, 0x4B, 0, 0, 0x01, 0x02, 0x03, 0x04}, reportRecord(0x01020304))
}

func TestConfigYAMLRendersAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote = netip.MustParseAddrPort("239.0.0.1:5000")
	cfg.Probe = netip.MustParseAddrPort("10.0.0.2:7000")
	cfg.KeepAlive.Destination = netip.MustParseAddrPort("10.0.0.5:7000")

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "remote: 239.0.0.1:5000")
	assert.Contains(t, out, "probe: 10.0.0.2:7000")
	assert.Contains(t, out, "destination: 10.0.0.5:7000")
}
