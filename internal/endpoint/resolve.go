package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"firestige.xyz/udpin/internal/core"
	"firestige.xyz/udpin/internal/session"
)

// Resolver looks up host names. *net.Resolver implements it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolve parses text and applies it on top of base using the default resolver.
func Resolve(ctx context.Context, text string, base session.Config) (session.Config, error) {
	e, err := Parse(text)
	if err != nil {
		return base, err
	}
	return e.Apply(ctx, base, net.DefaultResolver)
}

// Apply overrides base with everything the endpoint specifies and validates
// the result.
func (e *Endpoint) Apply(ctx context.Context, base session.Config, r Resolver) (session.Config, error) {
	cfg := base
	cfg.Endpoint = e.Text
	if n := e.Network(); n != "" {
		cfg.Network = n
	}

	lookup := func(host string) (netip.Addr, error) {
		return resolveHost(ctx, r, cfg.Network, host)
	}

	if e.Server.Host != "" {
		addr, err := lookup(e.Server.Host)
		if err != nil {
			return cfg, fmt.Errorf("server: %w", err)
		}
		cfg.Remote = netip.AddrPortFrom(addr, e.Server.Port)
	} else if e.Server.Port != 0 {
		return cfg, syntaxErr("server port without a server address")
	}

	bindPort := uint16(session.DefaultBindPort)
	if base.Bind.IsValid() {
		bindPort = base.Bind.Port()
	}
	if e.HasBind && e.Bind.Port != 0 {
		bindPort = e.Bind.Port
	}
	bindAddr := wildcard(cfg.Network, cfg.Remote)
	if e.Bind.Host != "" {
		addr, err := lookup(e.Bind.Host)
		if err != nil {
			return cfg, fmt.Errorf("bind: %w", err)
		}
		bindAddr = addr
	}
	cfg.Bind = netip.AddrPortFrom(bindAddr, bindPort)

	if e.NAT != nil {
		addr, err := lookup(e.NAT.Host)
		if err != nil {
			return cfg, fmt.Errorf("nat: %w", err)
		}
		cfg.Probe = netip.AddrPortFrom(addr, e.NAT.Port)
	}

	if e.KeepAlive != nil {
		addr, err := lookup(e.KeepAlive.Host)
		if err != nil {
			return cfg, fmt.Errorf("kplv: %w", err)
		}
		cfg.KeepAlive.Enabled = true
		cfg.KeepAlive.Destination = netip.AddrPortFrom(addr, e.KeepAlive.Port)
	}
	if e.Interval > 0 {
		cfg.KeepAlive.Interval = time.Duration(e.Interval) * session.IntervalUnit
	}
	if e.Payload != nil {
		cfg.KeepAlive.Payload = *e.Payload
		cfg.KeepAlive.Length = len(*e.Payload)
	}
	if e.Length != nil {
		cfg.KeepAlive.Length = *e.Length
	}

	return cfg, cfg.Validate()
}

// wildcard picks the unspecified address matching the network and, for a
// dual-stack network, the remote's family.
func wildcard(network string, remote netip.AddrPort) netip.Addr {
	switch {
	case network == "udp6":
		return netip.IPv6Unspecified()
	case network == "udp" && remote.IsValid() && remote.Addr().Is6():
		return netip.IPv6Unspecified()
	default:
		return netip.IPv4Unspecified()
	}
}

func resolveHost(ctx context.Context, r Resolver, network, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}

	family := "ip"
	switch network {
	case "udp4":
		family = "ip4"
	case "udp6":
		family = "ip6"
	}
	addrs, err := r.LookupNetIP(ctx, family, host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("resolve %q: no addresses: %w", host, core.ErrEndpointSyntax)
	}
	return addrs[0].Unmap(), nil
}
