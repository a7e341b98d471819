package endpoint

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/udpin/internal/core"
	"firestige.xyz/udpin/internal/session"
)

func TestParse(t *testing.T) {
	str := func(s string) *string { return &s }
	num := func(n int) *int { return &n }

	tests := []struct {
		name string
		text string
		want Endpoint
	}{
		{
			name: "Empty",
			text: "",
			want: Endpoint{},
		},
		{
			name: "BindPortOnly",
			text: "udp://@:1234",
			want: Endpoint{Scheme: "udp", HasBind: true, Bind: HostPort{Port: 1234}},
		},
		{
			name: "ServerAndBind",
			text: "239.0.0.1:5000@0.0.0.0:6000",
			want: Endpoint{
				Server:  HostPort{"239.0.0.1", 5000},
				HasBind: true,
				Bind:    HostPort{"0.0.0.0", 6000},
			},
		},
		{
			name: "BracketedIPv6",
			text: "udp6://[ff02::1]:5000@[::]:6000",
			want: Endpoint{
				Scheme:  "udp6",
				Server:  HostPort{"ff02::1", 5000},
				HasBind: true,
				Bind:    HostPort{"::", 6000},
			},
		},
		{
			name: "BareIPv6Server",
			text: "ff02::1",
			want: Endpoint{Server: HostPort{Host: "ff02::1"}},
		},
		{
			name: "BindHostWithoutPort",
			text: "@192.168.1.10",
			want: Endpoint{HasBind: true, Bind: HostPort{Host: "192.168.1.10"}},
		},
		{
			name: "AllTokens",
			text: "udpstream://@:1234,nat=1.2.3.4:5678,kplv=10.0.0.5:7000,time=30,strlen=12,string=a,b;",
			want: Endpoint{
				Scheme:    "udpstream",
				HasBind:   true,
				Bind:      HostPort{Port: 1234},
				NAT:       &HostPort{"1.2.3.4", 5678},
				KeepAlive: &HostPort{"10.0.0.5", 7000},
				Interval:  30,
				Length:    num(12),
				Payload:   str("a,b"),
			},
		},
		{
			name: "StringFollowedByToken",
			text: "@:1234,string=x;,time=5",
			want: Endpoint{
				HasBind:  true,
				Bind:     HostPort{Port: 1234},
				Payload:  str("x"),
				Interval: 5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			require.NoError(t, err)
			tt.want.Text = tt.text
			assert.Equal(t, &tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"UnknownScheme", "rtp://@:1234"},
		{"UnknownToken", "@:1234,foo=bar"},
		{"TokenWithoutValue", "@:1234,kplv"},
		{"BadPort", "@:99999"},
		{"EmptyPort", "@1.2.3.4:"},
		{"UnclosedBracket", "[::1:5000"},
		{"JunkAfterBracket", "[::1]x"},
		{"ZeroTime", "@:1234,time=0"},
		{"NonNumericTime", "@:1234,time=abc"},
		{"StrlenTooLarge", "@:1234,strlen=65"},
		{"NegativeStrlen", "@:1234,strlen=-1"},
		{"UnterminatedString", "@:1234,string=ping"},
		{"StringTooLong", "@:1234,string=0123456789012345678901234567890;"},
		{"KeepAliveWithoutPort", "@:1234,kplv=10.0.0.5"},
		{"NATWithoutHost", "@:1234,nat=:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.ErrorIs(t, err, core.ErrEndpointSyntax)
		})
	}
}

func TestResolveScenario(t *testing.T) {
	cfg, err := Resolve(context.Background(),
		"239.0.0.1:5000@0.0.0.0:6000,kplv=10.0.0.5:7000,time=30,string=ping;",
		session.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, netip.MustParseAddrPort("0.0.0.0:6000"), cfg.Bind)
	assert.Equal(t, netip.MustParseAddrPort("239.0.0.1:5000"), cfg.Remote)
	assert.True(t, cfg.IsMulticast())
	assert.True(t, cfg.KeepAlive.Enabled)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.5:7000"), cfg.KeepAlive.Destination)
	assert.Equal(t, 3*time.Second, cfg.KeepAlive.Interval)
	assert.Equal(t, []byte("ping"), cfg.KeepAlive.Bytes())
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		check func(t *testing.T, cfg session.Config)
	}{
		{
			name: "DefaultBind",
			text: "",
			check: func(t *testing.T, cfg session.Config) {
				assert.Equal(t, netip.MustParseAddrPort("0.0.0.0:1234"), cfg.Bind)
				assert.False(t, cfg.Remote.IsValid())
				assert.False(t, cfg.KeepAlive.Enabled)
			},
		},
		{
			name: "IPv6WildcardForIPv6Server",
			text: "[ff0e::1]:5000",
			check: func(t *testing.T, cfg session.Config) {
				assert.Equal(t, "udp", cfg.Network)
				assert.Equal(t, netip.MustParseAddrPort("[::]:1234"), cfg.Bind)
			},
		},
		{
			name: "SchemeSelectsNetwork",
			text: "udp6://@:4000",
			check: func(t *testing.T, cfg session.Config) {
				assert.Equal(t, "udp6", cfg.Network)
				assert.Equal(t, netip.MustParseAddrPort("[::]:4000"), cfg.Bind)
			},
		},
		{
			name: "UnicastServerFilter",
			text: "10.1.1.1@:5004",
			check: func(t *testing.T, cfg session.Config) {
				f, ok := cfg.SourceFilter()
				require.True(t, ok)
				assert.Equal(t, netip.MustParseAddrPort("10.1.1.1:0"), f)
			},
		},
		{
			name: "StrlenOverridesStringLength",
			text: "@:1234,kplv=10.0.0.5:7000,string=ping;,strlen=8",
			check: func(t *testing.T, cfg session.Config) {
				assert.Equal(t, []byte("ping\x00\x00\x00\x00"), cfg.KeepAlive.Bytes())
				assert.Equal(t, session.DefaultKeepAliveInterval, cfg.KeepAlive.Interval)
			},
		},
		{
			name: "NATProbe",
			text: "@:1234,nat=1.2.3.4:5678",
			check: func(t *testing.T, cfg session.Config) {
				assert.Equal(t, netip.MustParseAddrPort("1.2.3.4:5678"), cfg.Probe)
				assert.False(t, cfg.KeepAlive.Enabled)
			},
		},
		{
			name: "HostNames",
			text: "source.example@:1234,kplv=relay.example:7000",
			check: func(t *testing.T, cfg session.Config) {
				assert.Equal(t, netip.MustParseAddrPort("192.0.2.10:0"), cfg.Remote)
				assert.Equal(t, netip.MustParseAddrPort("192.0.2.20:7000"), cfg.KeepAlive.Destination)
			},
		},
	}

	r := fakeResolver{
		"source.example": netip.MustParseAddr("192.0.2.10"),
		"relay.example":  netip.MustParseAddr("192.0.2.20"),
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.text)
			require.NoError(t, err)
			cfg, err := e.Apply(context.Background(), session.DefaultConfig(), r)
			require.NoError(t, err)
			assert.Equal(t, tt.text, cfg.Endpoint)
			tt.check(t, cfg)
		})
	}
}

func TestApplyErrors(t *testing.T) {
	r := fakeResolver{}

	e, err := Parse("unknown.example@:1234")
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), session.DefaultConfig(), r)
	assert.ErrorIs(t, err, errNotFound)

	e, err = Parse(":5000@:1234")
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), session.DefaultConfig(), r)
	assert.ErrorIs(t, err, core.ErrEndpointSyntax)
}

var errNotFound = errors.New("no such host")

type fakeResolver map[string]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addr, ok := f[host]
	if !ok {
		return nil, errNotFound
	}
	return []netip.Addr{addr}, nil
}
