package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	SessionID string

	// Packet counters (using atomic for thread-safety)
	Read        atomic.Uint64
	Written     atomic.Uint64
	WriteErrors atomic.Uint64
	Bytes       atomic.Uint64
	Flushes     atomic.Uint64
	FlushErrors atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(sessionID string) *Metrics {
	return &Metrics{SessionID: sessionID}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Read.Store(0)
	m.Written.Store(0)
	m.WriteErrors.Store(0)
	m.Bytes.Store(0)
	m.Flushes.Store(0)
	m.FlushErrors.Store(0)
}
