package session

import (
	"net/netip"
	"sync/atomic"
)

// PeerState holds the address learned from the first received datagram.
// It is written at most once; the first Learn wins for the session lifetime.
type PeerState struct {
	addr atomic.Pointer[netip.AddrPort]
}

// Learn records addr if no peer has been learned yet and reports whether
// this call was the one that set it.
func (p *PeerState) Learn(addr netip.AddrPort) bool {
	return p.addr.CompareAndSwap(nil, &addr)
}

// Load returns the learned peer, if any.
func (p *PeerState) Load() (netip.AddrPort, bool) {
	a := p.addr.Load()
	if a == nil {
		return netip.AddrPort{}, false
	}
	return *a, true
}
