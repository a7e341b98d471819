// Package session implements the UDP ingestion session: a socket read by an
// ingestion worker into a bounded queue, an optional keep-alive worker that
// holds NAT mappings open, and the consumer-facing reader.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"firestige.xyz/udpin/internal/core"
	"firestige.xyz/udpin/internal/dump"
	"firestige.xyz/udpin/internal/metrics"
	"firestige.xyz/udpin/internal/queue"
)

// State represents the state of a session in its lifecycle.
type State string

const (
	// StateCreated indicates the session is built but its workers are not running.
	StateCreated State = "created"
	// StateRunning indicates the workers are running.
	StateRunning State = "running"
	// StateStopping indicates Close is joining the workers.
	StateStopping State = "stopping"
	// StateClosed indicates every resource has been released.
	StateClosed State = "closed"
)

func (s State) gauge() float64 {
	switch s {
	case StateRunning:
		return metrics.SessionStateRunning
	case StateStopping:
		return metrics.SessionStateStopping
	case StateClosed:
		return metrics.SessionStateClosed
	default:
		return metrics.SessionStateCreated
	}
}

// CaptureWriter receives a copy of every accepted datagram.
type CaptureWriter interface {
	WritePacket(p *core.Packet, local netip.AddrPort) error
	Close() error
}

// Opener acquires the socket a session reads from.
type Opener interface {
	Listen(ctx context.Context, cfg Config) (net.PacketConn, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg Config) (net.PacketConn, error)

// Listen calls f.
func (f OpenerFunc) Listen(ctx context.Context, cfg Config) (net.PacketConn, error) {
	return f(ctx, cfg)
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the clock driving keep-alive ticks and receive timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithAllocator replaces the packet buffer allocator.
func WithAllocator(a Allocator) Option {
	return func(s *Session) { s.alloc = a }
}

// WithCaptureWriter sets the raw capture destination, overriding RawCapture.Path.
func WithCaptureWriter(w CaptureWriter) Option {
	return func(s *Session) { s.capture = w }
}

// WithID sets the session ID instead of a generated UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is one UDP ingestion session.
type Session struct {
	id      string
	cfg     Config
	conn    net.PacketConn
	local   netip.AddrPort
	queue   *queue.FIFO
	peer    PeerState
	clock   clock.Clock
	alloc   Allocator
	capture CaptureWriter
	metrics *metrics.SessionMetrics
	stats   counters

	eof atomic.Bool

	mu        sync.RWMutex
	state     State
	createdAt time.Time
	startedAt time.Time
	closedAt  time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
}

// New creates a session reading from conn. The session takes ownership of
// conn and closes it on error.
func New(cfg Config, conn net.PacketConn, opts ...Option) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("nil packet conn: %w", core.ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		conn.Close()
		return nil, err
	}
	q, err := queue.New(cfg.QueueCapacity)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		conn:  conn,
		local: addrPortOf(conn.LocalAddr()),
		queue: q,
		clock: clock.New(),
		alloc: defaultAllocator,
		state: StateCreated,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.clock.Now()

	if s.capture == nil && cfg.RawCapture.Enabled {
		w, err := dump.Create(cfg.RawCapture.Path)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open raw capture: %w", err)
		}
		s.capture = w
	}

	s.metrics = metrics.ForSession(s.id)
	s.metrics.State.Set(StateCreated.gauge())
	s.metrics.PeerLearned.Set(0)

	attrs := []any{"session_id", s.id, "network", cfg.Network,
		"local", s.local, "queue_capacity", cfg.QueueCapacity}
	if cfg.Remote.IsValid() {
		attrs = append(attrs, "remote", cfg.Remote)
	}
	slog.Info("session created", attrs...)
	return s, nil
}

// Open acquires the socket through opener, then creates and starts the session.
// Anything acquired is released on failure.
func Open(ctx context.Context, cfg Config, opener Opener, opts ...Option) (*Session, error) {
	conn, err := opener.Listen(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("acquire socket: %w", err)
	}
	s, err := New(cfg, conn, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Config returns the session config.
func (s *Session) Config() Config {
	return s.cfg
}

// LocalAddr returns the bound socket address.
func (s *Session) LocalAddr() netip.AddrPort {
	return s.local
}

// Peer returns the learned peer address, if any.
func (s *Session) Peer() (netip.AddrPort, bool) {
	return s.peer.Load()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// setState updates the session state (must hold mu lock).
func (s *Session) setState(st State) {
	s.state = st
	s.metrics.State.Set(st.gauge())
	slog.Info("session state changed", "session_id", s.id, "state", st)
}

// Start sends the nat probe, if any, and starts the workers.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start session in state %s: %w", st, core.ErrInvalidState)
	}

	// the probe precedes every keep-alive send
	s.sendProbe()

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = s.clock.Now()

	s.wg.Add(1)
	go s.ingestLoop(wctx)

	if s.cfg.KeepAlive.Enabled {
		s.wg.Add(1)
		go s.keepAliveLoop(wctx)
	}

	s.setState(StateRunning)
	s.mu.Unlock()
	return nil
}

// Close stops the workers and releases the socket and any queued packets.
// Calling Close again returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		<-s.done
		return nil
	case StateRunning:
		s.setState(StateStopping)
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	err := s.release()

	s.mu.Lock()
	s.closedAt = s.clock.Now()
	s.setState(StateClosed)
	s.mu.Unlock()
	close(s.done)

	s.metrics.Delete()
	return err
}

// release closes the socket, then the queue, then the capture file.
func (s *Session) release() error {
	var errs []error
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close socket: %w", err))
	}

	s.queue.Close()
	if n := s.queue.Release(); n > 0 {
		slog.Debug("released queued packets", "session_id", s.id, "count", n)
	}

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close raw capture: %w", err))
		}
		s.capture = nil
	}
	return errors.Join(errs...)
}

// ReadPacket returns the next received packet in arrival order. Once the
// stream has ended it returns io.EOF on every call.
func (s *Session) ReadPacket(ctx context.Context) (*core.Packet, error) {
	if s.eof.Load() {
		return nil, io.EOF
	}
	if s.State() == StateCreated {
		return nil, core.ErrSessionNotRunning
	}

	p, err := s.queue.Get(ctx)
	if errors.Is(err, io.EOF) {
		s.eof.Store(true)
		slog.Debug("end of stream", "session_id", s.id)
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	s.metrics.QueueBytes.Set(float64(s.queue.Size()))
	s.metrics.QueuePackets.Set(float64(s.queue.Len()))
	return p, nil
}

// Status returns a snapshot of the session for the control plane.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		ID:        s.id,
		State:     s.state,
		Endpoint:  s.cfg.Endpoint,
		Network:   s.cfg.Network,
		Local:     s.local.String(),
		Multicast: s.cfg.IsMulticast(),
		KeepAlive: s.cfg.KeepAlive.Enabled,
		CreatedAt: s.createdAt,
		StartedAt: s.startedAt,
		ClosedAt:  s.closedAt,
	}
	if s.state == StateRunning {
		st.Uptime = s.clock.Since(s.startedAt).Round(time.Second).String()
	}
	s.mu.RUnlock()

	if s.cfg.Remote.IsValid() {
		st.Remote = s.cfg.Remote.String()
	}
	if peer, ok := s.peer.Load(); ok {
		st.Peer = peer.String()
		st.PeerLearned = true
	}
	if st.KeepAlive {
		dst, _ := s.keepAliveTarget()
		st.KeepAliveTarget = dst.String()
	}
	return st
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Received:        s.stats.received.Load(),
		Bytes:           s.stats.bytes.Load(),
		ReceiveErrors:   s.stats.receiveErrors.Load(),
		Filtered:        s.stats.filtered.Load(),
		ProducerBlocked: s.stats.producerBlocked.Load(),
		KeepAliveSent:   s.stats.keepAliveSent.Load(),
		KeepAliveErrors: s.stats.keepAliveErrors.Load(),
		ReportsSent:     s.stats.reportsSent.Load(),
		CaptureErrors:   s.stats.captureErrors.Load(),
		QueuePackets:    s.queue.Len(),
		QueueBytes:      s.queue.Size(),
		QueueCapacity:   s.queue.Capacity(),
	}
}
