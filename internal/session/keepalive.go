package session

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"net/netip"
)

const (
	reportVersion = 0x01
	reportType    = 0x4B
	reportLen     = 8
)

// reportRecord builds the 8-byte sequence record sent after each payload:
// version, type, two reserved bytes, then the big-endian sequence.
func reportRecord(seq uint32) []byte {
	b := make([]byte, reportLen)
	b[0] = reportVersion
	b[1] = reportType
	binary.BigEndian.PutUint32(b[4:], seq)
	return b
}

// keepAliveTarget returns where the next keep-alive goes: the learned peer
// if there is one, otherwise the configured destination.
func (s *Session) keepAliveTarget() (netip.AddrPort, string) {
	if peer, ok := s.peer.Load(); ok {
		return peer, "peer"
	}
	return s.cfg.KeepAlive.Destination, "configured"
}

func (s *Session) keepAliveLoop(ctx context.Context) {
	defer s.wg.Done()

	ka := s.cfg.KeepAlive
	payload := ka.Bytes()
	ticker := s.clock.Ticker(ka.Interval)
	defer ticker.Stop()

	slog.Debug("keep-alive started", "session_id", s.id,
		"destination", ka.Destination, "interval", ka.Interval, "length", ka.Length)

	var seq uint32
	for {
		seq++
		s.sendKeepAlive(payload, seq)

		select {
		case <-ctx.Done():
			slog.Debug("keep-alive stopped", "session_id", s.id, "sent", s.stats.keepAliveSent.Load())
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) sendKeepAlive(payload []byte, seq uint32) {
	dst, kind := s.keepAliveTarget()
	addr := net.UDPAddrFromAddrPort(dst)

	if _, err := s.conn.WriteTo(payload, addr); err != nil {
		s.stats.keepAliveErrors.Add(1)
		s.metrics.KeepAliveErrors.Inc()
		slog.Warn("keep-alive send failed", "session_id", s.id, "destination", dst, "error", err)
	} else {
		s.stats.keepAliveSent.Add(1)
		s.metrics.KeepAliveSent(kind).Inc()
	}

	if !s.cfg.KeepAlive.Report {
		return
	}
	if _, err := s.conn.WriteTo(reportRecord(seq), addr); err != nil {
		s.stats.keepAliveErrors.Add(1)
		s.metrics.KeepAliveErrors.Inc()
		slog.Warn("keep-alive report send failed", "session_id", s.id, "destination", dst, "seq", seq, "error", err)
		return
	}
	s.stats.reportsSent.Add(1)
}

// probePayload is the datagram sent once to the nat= destination.
var probePayload = []byte(DefaultKeepAlivePayload + "\x00")

// sendProbe opens the NAT mapping toward the probe destination.
// A failure is logged and does not stop the session.
func (s *Session) sendProbe() {
	if !s.cfg.Probe.IsValid() {
		return
	}
	if _, err := s.conn.WriteTo(probePayload, net.UDPAddrFromAddrPort(s.cfg.Probe)); err != nil {
		slog.Warn("nat probe failed", "session_id", s.id, "destination", s.cfg.Probe, "error", err)
		return
	}
	slog.Info("nat probe sent", "session_id", s.id, "destination", s.cfg.Probe)
}
