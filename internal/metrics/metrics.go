// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceivedTotal counts datagrams accepted into the session queue
	PacketsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_packets_received_total",
			Help: "Total number of datagrams received and queued",
		},
		[]string{"session"},
	)

	// BytesReceivedTotal counts payload bytes accepted into the session queue
	BytesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_bytes_received_total",
			Help: "Total payload bytes received and queued",
		},
		[]string{"session"},
	)

	// ReceiveErrorsTotal counts transient socket receive errors
	ReceiveErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_receive_errors_total",
			Help: "Total number of transient receive errors",
		},
		[]string{"session"},
	)

	// FilteredTotal counts datagrams dropped by the remote source filter
	FilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_filtered_total",
			Help: "Total number of datagrams rejected by the source filter",
		},
		[]string{"session"},
	)

	// QueueBytes tracks payload bytes buffered between ingestion and consumer
	QueueBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "udpin_queue_bytes",
			Help: "Payload bytes currently buffered in the packet queue",
		},
		[]string{"session"},
	)

	// QueuePackets tracks packets buffered between ingestion and consumer
	QueuePackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "udpin_queue_packets",
			Help: "Packets currently buffered in the packet queue",
		},
		[]string{"session"},
	)

	// ProducerBlockedTotal counts receives that had to wait for queue space
	ProducerBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_producer_blocked_total",
			Help: "Total number of times the ingestion worker waited on backpressure",
		},
		[]string{"session"},
	)

	// KeepAliveSentTotal counts keep-alive payloads sent
	KeepAliveSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_keepalive_sent_total",
			Help: "Total number of keep-alive payloads sent",
		},
		[]string{"session", "target"}, // target: configured | peer
	)

	// KeepAliveErrorsTotal counts failed keep-alive sends
	KeepAliveErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_keepalive_errors_total",
			Help: "Total number of failed keep-alive sends",
		},
		[]string{"session"},
	)

	// PeerLearned is 1 once the session has learned its peer address
	PeerLearned = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "udpin_peer_learned",
			Help: "Whether a peer address has been learned (0=no, 1=yes)",
		},
		[]string{"session"},
	)

	// SessionState tracks current session state
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "udpin_session_state",
			Help: "Current session state (0=created, 1=running, 2=stopping, 3=closed)",
		},
		[]string{"session"},
	)

	// SinkPacketsTotal counts packets written downstream
	SinkPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_sink_packets_total",
			Help: "Total number of packets written to the sink",
		},
		[]string{"session", "sink"},
	)

	// SinkErrorsTotal counts sink write errors
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpin_sink_errors_total",
			Help: "Total number of sink write errors",
		},
		[]string{"session", "sink"},
	)
)

// SessionStateValue represents session state as a numeric value for Prometheus gauge
const (
	SessionStateCreated  = 0
	SessionStateRunning  = 1
	SessionStateStopping = 2
	SessionStateClosed   = 3
)

// SessionMetrics holds the per-session children of the vectors above so the
// receive path does not pay a label lookup per datagram.
type SessionMetrics struct {
	id string

	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	ReceiveErrors   prometheus.Counter
	Filtered        prometheus.Counter
	QueueBytes      prometheus.Gauge
	QueuePackets    prometheus.Gauge
	ProducerBlocked prometheus.Counter
	KeepAliveErrors prometheus.Counter
	PeerLearned     prometheus.Gauge
	State           prometheus.Gauge
}

// ForSession returns the metric children labelled with the given session ID.
func ForSession(id string) *SessionMetrics {
	return &SessionMetrics{
		id:              id,
		PacketsReceived: PacketsReceivedTotal.WithLabelValues(id),
		BytesReceived:   BytesReceivedTotal.WithLabelValues(id),
		ReceiveErrors:   ReceiveErrorsTotal.WithLabelValues(id),
		Filtered:        FilteredTotal.WithLabelValues(id),
		QueueBytes:      QueueBytes.WithLabelValues(id),
		QueuePackets:    QueuePackets.WithLabelValues(id),
		ProducerBlocked: ProducerBlockedTotal.WithLabelValues(id),
		KeepAliveErrors: KeepAliveErrorsTotal.WithLabelValues(id),
		PeerLearned:     PeerLearned.WithLabelValues(id),
		State:           SessionState.WithLabelValues(id),
	}
}

// KeepAliveSent returns the keep-alive counter for the given target kind.
func (m *SessionMetrics) KeepAliveSent(target string) prometheus.Counter {
	return KeepAliveSentTotal.WithLabelValues(m.id, target)
}

// Delete removes every series labelled with this session.
func (m *SessionMetrics) Delete() {
	labels := prometheus.Labels{"session": m.id}
	PacketsReceivedTotal.DeletePartialMatch(labels)
	BytesReceivedTotal.DeletePartialMatch(labels)
	ReceiveErrorsTotal.DeletePartialMatch(labels)
	FilteredTotal.DeletePartialMatch(labels)
	QueueBytes.DeletePartialMatch(labels)
	QueuePackets.DeletePartialMatch(labels)
	ProducerBlockedTotal.DeletePartialMatch(labels)
	KeepAliveSentTotal.DeletePartialMatch(labels)
	KeepAliveErrorsTotal.DeletePartialMatch(labels)
	PeerLearned.DeletePartialMatch(labels)
	SessionState.DeletePartialMatch(labels)
	SinkPacketsTotal.DeletePartialMatch(labels)
	SinkErrorsTotal.DeletePartialMatch(labels)
}
