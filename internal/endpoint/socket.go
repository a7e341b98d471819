package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"firestige.xyz/udpin/internal/session"
)

// SocketOptions are the host socket settings applied by Listen.
type SocketOptions struct {
	// ReadBuffer sets SO_RCVBUF when positive.
	ReadBuffer int
	// MulticastInterface names the interface for group joins; empty joins
	// on every multicast-capable interface.
	MulticastInterface string
}

// Listener acquires sockets with fixed options. It implements session.Opener.
type Listener struct {
	Options SocketOptions
}

// Listen implements session.Opener.
func (l Listener) Listen(ctx context.Context, cfg session.Config) (net.PacketConn, error) {
	return Listen(ctx, cfg, l.Options)
}

// Listen binds a UDP socket for cfg and joins the multicast group when the
// remote is one.
func Listen(ctx context.Context, cfg session.Config, opts SocketOptions) (net.PacketConn, error) {
	multicast := cfg.IsMulticast()
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return control(c, multicast)
		},
	}

	pc, err := lc.ListenPacket(ctx, cfg.Network, cfg.Bind.String())
	if err != nil {
		return nil, fmt.Errorf("bind %s %s: %w", cfg.Network, cfg.Bind, err)
	}
	conn := pc.(*net.UDPConn)

	if opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			slog.Warn("failed to set socket receive buffer", "size", opts.ReadBuffer, "error", err)
		}
	}

	if multicast {
		if err := joinGroup(conn, cfg.Remote.Addr(), opts.MulticastInterface); err != nil {
			conn.Close()
			return nil, err
		}
	}

	slog.Info("socket bound", "network", cfg.Network, "local", conn.LocalAddr().String(),
		"multicast", multicast)
	return conn, nil
}

type groupJoiner interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
}

func joinGroup(conn *net.UDPConn, group netip.Addr, ifname string) error {
	var j groupJoiner
	if group.Is4() {
		j = ipv4.NewPacketConn(conn)
	} else {
		j = ipv6.NewPacketConn(conn)
	}
	addr := &net.UDPAddr{IP: group.AsSlice()}

	if ifname != "" {
		ifi, err := net.InterfaceByName(ifname)
		if err != nil {
			return fmt.Errorf("multicast interface %q: %w", ifname, err)
		}
		if err := j.JoinGroup(ifi, addr); err != nil {
			return fmt.Errorf("join %s on %s: %w", group, ifname, err)
		}
		slog.Info("joined multicast group", "group", group, "interface", ifname)
		return nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	joined := 0
	var errs []error
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := j.JoinGroup(ifi, addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ifi.Name, err))
			continue
		}
		joined++
		slog.Debug("joined multicast group", "group", group, "interface", ifi.Name)
	}
	if joined > 0 {
		slog.Info("joined multicast group", "group", group, "interfaces", joined)
		return nil
	}

	// no usable interface: let the kernel pick one
	if err := j.JoinGroup(nil, addr); err != nil {
		errs = append(errs, err)
		return fmt.Errorf("join %s: %w", group, errors.Join(errs...))
	}
	slog.Info("joined multicast group", "group", group, "interface", "default")
	return nil
}
