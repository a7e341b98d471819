// Package pipeline drains a session into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/udpin/internal/core"
	"firestige.xyz/udpin/internal/metrics"
	"firestige.xyz/udpin/internal/sink"
)

// Source yields packets until io.EOF. *session.Session implements it.
type Source interface {
	ReadPacket(ctx context.Context) (*core.Packet, error)
}

// Config contains pipeline configuration.
type Config struct {
	SessionID string
	Local     string
	Source    Source
	Sink      sink.Sink
	// FlushInterval bounds how long written packets may sit in a sink
	// buffer, including while the source is idle. Default 1s.
	FlushInterval time.Duration
}

// Pipeline reads packets from its source and writes them to its sink.
type Pipeline struct {
	cfg     Config
	metrics *Metrics

	written prometheus.Counter
	errors  prometheus.Counter
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("pipeline requires a source and a sink: %w", core.ErrConfigInvalid)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	name := cfg.Sink.Name()
	return &Pipeline{
		cfg:     cfg,
		metrics: NewMetrics(cfg.SessionID),
		written: metrics.SinkPacketsTotal.WithLabelValues(cfg.SessionID, name),
		errors:  metrics.SinkErrorsTotal.WithLabelValues(cfg.SessionID, name),
	}, nil
}

// Run opens the sink and copies packets until the source reaches end of
// stream or ctx is cancelled. The sink is flushed and closed before Run
// returns. A sink write error is counted and the loop continues.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	s := p.cfg.Sink
	if err := s.Open(ctx, sink.Info{SessionID: p.cfg.SessionID, Local: p.cfg.Local}); err != nil {
		return fmt.Errorf("open sink %s: %w", s.Name(), err)
	}
	slog.Info("pipeline started", "session_id", p.cfg.SessionID, "sink", s.Name())

	defer func() {
		p.flush(context.WithoutCancel(ctx))
		if cerr := s.Close(); cerr != nil {
			slog.Error("sink close failed", "session_id", p.cfg.SessionID, "sink", s.Name(), "error", cerr)
		}
		slog.Info("pipeline stopped", "session_id", p.cfg.SessionID,
			"read", p.metrics.Read.Load(),
			"written", p.metrics.Written.Load(),
			"write_errors", p.metrics.WriteErrors.Load())
	}()

	results := make(chan readResult)
	rctx, stopReading := context.WithCancel(ctx)
	readerDone := make(chan struct{})
	go p.readLoop(rctx, results, readerDone)
	defer func() {
		stopReading()
		<-readerDone
	}()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if pending {
				p.flush(ctx)
				pending = false
			}

		case r := <-results:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read packet: %w", r.err)
			}
			p.metrics.Read.Add(1)

			if err := s.Write(ctx, r.pkt); err != nil {
				p.metrics.WriteErrors.Add(1)
				p.errors.Inc()
				slog.Warn("sink write failed", "session_id", p.cfg.SessionID, "sink", s.Name(), "error", err)
				continue
			}
			p.metrics.Written.Add(1)
			p.metrics.Bytes.Add(uint64(r.pkt.Len()))
			p.written.Inc()
			pending = true
		}
	}
}

type readResult struct {
	pkt *core.Packet
	err error
}

// readLoop feeds Run from the source so idle periods still reach the
// flush ticker. It stops after the first error or when ctx is done.
func (p *Pipeline) readLoop(ctx context.Context, out chan<- readResult, done chan<- struct{}) {
	defer close(done)
	for {
		pkt, err := p.cfg.Source.ReadPacket(ctx)
		select {
		case out <- readResult{pkt: pkt, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *Pipeline) flush(ctx context.Context) {
	p.metrics.Flushes.Add(1)
	if err := p.cfg.Sink.Flush(ctx); err != nil {
		p.metrics.FlushErrors.Add(1)
		slog.Error("sink flush failed", "session_id", p.cfg.SessionID, "sink", p.cfg.Sink.Name(), "error", err)
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Sink:        p.cfg.Sink.Name(),
		Read:        p.metrics.Read.Load(),
		Written:     p.metrics.Written.Load(),
		WriteErrors: p.metrics.WriteErrors.Load(),
		Bytes:       p.metrics.Bytes.Load(),
		Flushes:     p.metrics.Flushes.Load(),
		FlushErrors: p.metrics.FlushErrors.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Sink        string `json:"sink"`
	Read        uint64 `json:"read"`
	Written     uint64 `json:"written"`
	WriteErrors uint64 `json:"write_errors"`
	Bytes       uint64 `json:"bytes"`
	Flushes     uint64 `json:"flushes"`
	FlushErrors uint64 `json:"flush_errors"`
}
