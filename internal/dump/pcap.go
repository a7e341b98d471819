// Package dump writes received datagrams to a pcap file.
//
// The socket only hands us UDP payloads, so each record gets synthesized
// Ethernet, IP and UDP headers built from the sender and the bound address.
package dump

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/udpin/internal/core"
)

// SnapLen covers the largest datagram plus synthesized headers.
const SnapLen = core.MTU + 128

// Writer appends packets to a pcap file. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	buf   *bufio.Writer
	pcap  *pcapgo.Writer
	count uint64
}

// Create truncates or creates path and writes the pcap file header.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(SnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{file: f, buf: buf, pcap: w}, nil
}

// WritePacket records p as a UDP datagram from p.From to local.
func (w *Writer) WritePacket(p *core.Packet, local netip.AddrPort) error {
	frame, err := Frame(p, local)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("pcap writer closed: %w", os.ErrClosed)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.Received,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.pcap.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write pcap record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	ferr := w.buf.Flush()
	cerr := w.file.Close()
	w.file = nil
	if ferr != nil {
		return fmt.Errorf("flush pcap file: %w", ferr)
	}
	return cerr
}

var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// Frame serializes p as an Ethernet frame carrying an IP/UDP datagram.
// The destination family follows the source; an address of the other
// family is replaced by the unspecified address.
func Frame(p *core.Packet, local netip.AddrPort) ([]byte, error) {
	src := p.From.Addr()
	dst := local.Addr()

	eth := &layers.Ethernet{SrcMAC: zeroMAC, DstMAC: zeroMAC}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.From.Port()),
		DstPort: layers.UDPPort(local.Port()),
	}

	var network gopacket.NetworkLayer
	if src.Is4() || !src.IsValid() {
		if !src.IsValid() {
			src = netip.IPv4Unspecified()
		}
		if !dst.Is4() {
			dst = netip.IPv4Unspecified()
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		network = &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
		}
	} else {
		if !dst.Is6() {
			dst = netip.IPv6Unspecified()
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		network = &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      src.AsSlice(),
			DstIP:      dst.AsSlice(),
		}
	}
	if err := udp.SetNetworkLayerForChecksum(network); err != nil {
		return nil, fmt.Errorf("udp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts,
		eth,
		network.(gopacket.SerializableLayer),
		udp,
		gopacket.Payload(p.Data),
	)
	if err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}
