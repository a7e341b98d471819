package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/udpin/internal/core"
)

// aLongTimeAgo is a read deadline that interrupts a blocked receive.
var aLongTimeAgo = time.Unix(1, 0)

// Allocator returns a buffer of exactly n bytes for a received datagram.
// Returning nil is fatal to the ingestion worker.
type Allocator func(n int) []byte

func defaultAllocator(n int) []byte {
	return make([]byte, n)
}

// addrPortReader is implemented by *net.UDPConn.
type addrPortReader interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
}

// receive reads one datagram into buf and returns its unmapped source.
func (s *Session) receive(buf []byte) (int, netip.AddrPort, error) {
	if r, ok := s.conn.(addrPortReader); ok {
		n, from, err := r.ReadFromUDPAddrPort(buf)
		return n, unmap(from), err
	}
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		return n, netip.AddrPort{}, err
	}
	return n, addrPortOf(addr), nil
}

func (s *Session) ingestLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.queue.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	filter, filtering := s.cfg.SourceFilter()
	errLog := rate.NewLimiter(rate.Every(time.Second), 5)
	buf := make([]byte, core.MTU)

	slog.Debug("ingest started", "session_id", s.id, "local", s.local)

	for {
		if err := s.queue.Pace(ctx, s.queue.Capacity()); err != nil {
			slog.Debug("ingest stopped", "session_id", s.id, "reason", err)
			return
		}

		n, from, err := s.receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("ingest stopped", "session_id", s.id, "reason", ctx.Err())
				return
			}
			if errors.Is(err, net.ErrClosed) {
				slog.Info("socket closed, ingest stopped", "session_id", s.id)
				return
			}
			s.stats.receiveErrors.Add(1)
			s.metrics.ReceiveErrors.Inc()
			if errLog.Allow() {
				slog.Warn("receive failed", "session_id", s.id, "error", err)
			}
			continue
		}

		if filtering && !matchSource(filter, from) {
			s.stats.filtered.Add(1)
			s.metrics.Filtered.Inc()
			continue
		}

		data := s.alloc(n)
		if data == nil {
			slog.Error("packet allocation failed, ingest stopped",
				"session_id", s.id, "size", n, "error", core.ErrAllocationFailed)
			return
		}
		copy(data, buf[:n])
		pkt := &core.Packet{Data: data, From: from, Received: s.clock.Now()}

		if s.cfg.LearnPeer && s.peer.Learn(from) {
			s.metrics.PeerLearned.Set(1)
			slog.Info("peer learned", "session_id", s.id, "peer", from)
		}

		if s.capture != nil {
			if err := s.capture.WritePacket(pkt, s.local); err != nil {
				s.stats.captureErrors.Add(1)
				slog.Error("raw capture write failed, capture disabled", "session_id", s.id, "error", err)
				s.capture.Close()
				s.capture = nil
			}
		}

		if s.queue.Len() > 0 && s.queue.Size()+n > s.queue.Capacity() {
			s.stats.producerBlocked.Add(1)
			s.metrics.ProducerBlocked.Inc()
		}
		if err := s.queue.Put(ctx, pkt); err != nil {
			slog.Debug("ingest stopped", "session_id", s.id, "reason", err)
			return
		}

		s.stats.received.Add(1)
		s.stats.bytes.Add(uint64(n))
		s.metrics.PacketsReceived.Inc()
		s.metrics.BytesReceived.Add(float64(n))
		s.metrics.QueueBytes.Set(float64(s.queue.Size()))
		s.metrics.QueuePackets.Set(float64(s.queue.Len()))
	}
}

// matchSource applies the unicast remote filter. Port 0 matches any port.
func matchSource(filter, from netip.AddrPort) bool {
	if filter.Addr().Unmap() != from.Addr() {
		return false
	}
	return filter.Port() == 0 || filter.Port() == from.Port()
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return unmap(a.AddrPort())
	case nil:
		return netip.AddrPort{}
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}
		}
		return unmap(ap)
	}
}
