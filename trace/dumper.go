// Package trace optionally records decoded MuxPackets to a pcap file for
// offline inspection in Wireshark, mirroring the teacher's ios/pcap and
// ios/sniffer packages but pointed at USB mux traffic instead of a live
// network capture (spec §9 Design Note, SPEC_FULL §11).
//
// MuxPackets carry no IP/Ethernet framing of their own, so Dumper
// synthesizes a minimal loopback Ethernet+IPv4+TCP wrapper around each one:
// source/destination ports and TCP flags map directly from the MuxPacket,
// letting a standard packet analyzer follow each mux connection as a TCP
// stream without understanding the mux wire format itself.
package trace

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hexmux/idevice/mux"
	log "github.com/sirupsen/logrus"
)

// loopbackMAC is used for both synthesized Ethernet endpoints; the capture
// has no real link layer, so any fixed address keeps Wireshark's Ethernet
// dissector happy without implying anything about the real hardware.
var loopbackMAC = []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

// hostIP and deviceIP label the two synthetic endpoints so a reader can
// tell direction apart in a packet list at a glance.
var (
	hostIP   = []byte{127, 0, 0, 1}
	deviceIP = []byte{127, 0, 0, 2}
)

// Dumper implements mux.PacketTracer, writing every traced packet to a
// pcap-format file as it crosses the wire.
type Dumper struct {
	w      *pcapgo.Writer
	closer io.Closer
}

// NewDumper writes a pcap file header to file, which the caller has
// already opened, and returns a Dumper that appends packets to it. path is
// not used. Close must be called to release the file.
func NewDumper(path string, file io.WriteCloser) (*Dumper, error) {
	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, err
	}
	return &Dumper{w: w, closer: file}, nil
}

// Trace implements mux.PacketTracer. It never returns an error to its
// caller — a failed trace write is logged and dropped rather than
// disrupting the transport it is observing (spec §9: tracing is purely
// observational).
func (d *Dumper) Trace(pkt mux.Packet, outbound bool) {
	data, err := serialize(pkt, outbound)
	if err != nil {
		log.WithError(err).Warn("trace: failed to serialize packet")
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Time{},
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := d.w.WritePacket(ci, data); err != nil {
		log.WithError(err).Warn("trace: failed to write packet")
	}
}

// Close flushes and releases the underlying file.
func (d *Dumper) Close() error {
	return d.closer.Close()
}

func serialize(pkt mux.Packet, outbound bool) ([]byte, error) {
	srcIP, dstIP := deviceIP, hostIP
	if outbound {
		srcIP, dstIP = hostIP, deviceIP
	}

	eth := &layers.Ethernet{
		SrcMAC:       loopbackMAC,
		DstMAC:       loopbackMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(pkt.SrcPort),
		DstPort: layers.TCPPort(pkt.DstPort),
		Seq:     pkt.Seq,
		Ack:     pkt.Ack,
		Window:  pkt.Window,
		SYN:     pkt.Flags&mux.FlagSYN != 0,
		ACK:     pkt.Flags&mux.FlagACK != 0,
		FIN:     pkt.Flags&mux.FlagFIN != 0,
		RST:     pkt.Flags&mux.FlagRST != 0,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(pkt.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
