// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// MTU is the largest datagram the ingestion worker receives in one read.
const MTU = 65535

// Packet is one received datagram, owned by the queue until consumed.
type Packet struct {
	Data     []byte         // Payload, exact received length
	From     netip.AddrPort // Sender address as reported by the socket
	Received time.Time      // Receive timestamp
}

// Len returns the payload length accounted against the queue capacity.
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}
