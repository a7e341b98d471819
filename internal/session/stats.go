package session

import (
	"sync/atomic"
	"time"
)

// counters are the live per-session counters updated by the workers.
type counters struct {
	received        atomic.Uint64
	bytes           atomic.Uint64
	receiveErrors   atomic.Uint64
	filtered        atomic.Uint64
	producerBlocked atomic.Uint64
	keepAliveSent   atomic.Uint64
	keepAliveErrors atomic.Uint64
	reportsSent     atomic.Uint64
	captureErrors   atomic.Uint64
}

// Stats is a snapshot of session counters.
type Stats struct {
	Received        uint64 `json:"received"`
	Bytes           uint64 `json:"bytes"`
	ReceiveErrors   uint64 `json:"receive_errors"`
	Filtered        uint64 `json:"filtered"`
	ProducerBlocked uint64 `json:"producer_blocked"`
	KeepAliveSent   uint64 `json:"keepalive_sent"`
	KeepAliveErrors uint64 `json:"keepalive_errors"`
	ReportsSent     uint64 `json:"reports_sent"`
	CaptureErrors   uint64 `json:"capture_errors"`
	QueuePackets    int    `json:"queue_packets"`
	QueueBytes      int    `json:"queue_bytes"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// Status describes the session for the control plane.
type Status struct {
	ID              string    `json:"id"`
	State           State     `json:"state"`
	Endpoint        string    `json:"endpoint,omitempty"`
	Network         string    `json:"network"`
	Local           string    `json:"local"`
	Remote          string    `json:"remote,omitempty"`
	Multicast       bool      `json:"multicast"`
	Peer            string    `json:"peer,omitempty"`
	PeerLearned     bool      `json:"peer_learned"`
	KeepAlive       bool      `json:"keepalive"`
	KeepAliveTarget string    `json:"keepalive_target,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	ClosedAt        time.Time `json:"closed_at,omitempty"`
	Uptime          string    `json:"uptime,omitempty"`
}
