// Package mux implements the USB multiplexing transport (spec §3, §4.2):
// a TCP-like protocol framed over a single bulk-USB pipe, giving callers a
// socket-like send/recv per logical connection.
package mux

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Protocol is the fixed protocol identifier carried in every MuxPacket
// header (spec §3: "protocol(u32)=6 (TCP-like)").
const Protocol uint32 = 6

// headerSize is the fixed wire size of a MuxPacket header (spec §3: "fixed
// 28-byte header"). The field layout follows original_source/src/usbmux.h's
// usbmux_tcp_header exactly (type, length, sport, dport, scnt, ocnt,
// offset, tcp_flags, window, reserved, length16) — the original has two
// redundant length fields (a historical quirk of the protocol) and one
// reserved word the prose in spec.md's field list omits; the original
// source is authoritative for exact byte layout per this module's resolved
// Open Question (see DESIGN.md).
const headerSize = 28

// Flag bits, spec §4.2 / §6.
const (
	FlagFIN byte = 0x01
	FlagSYN byte = 0x02
	FlagRST byte = 0x04
	FlagACK byte = 0x10
)

// header is the 28-byte wire header packed/unpacked with struc, replacing
// the teacher's hand-rolled binary.Read/Write (ios/usbmuxconnection.go)
// with byte-accurate struct tags since this wire format is fixed-width and
// has no variable-length fields to hand-hold struc through.
type header struct {
	Protocol  uint32 `struc:"uint32,big"`
	Length    uint32 `struc:"uint32,big"`
	SrcPort   uint16 `struc:"uint16,big"`
	DstPort   uint16 `struc:"uint16,big"`
	Seq       uint32 `struc:"uint32,big"`
	Ack       uint32 `struc:"uint32,big"`
	Offset    uint8  `struc:"uint8"`
	Flags     uint8  `struc:"uint8"`
	Window    uint16 `struc:"uint16,big"`
	Reserved  uint16 `struc:"uint16,big"`
	Length16  uint16 `struc:"uint16,big"`
}

// Packet is the decoded, in-memory representation of a MuxPacket (spec
// §3). Payload is never aliased into the underlying read buffer by
// callers of Unmarshal — it is always a fresh slice.
type Packet struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   byte
	Window  uint16
	Payload []byte
}

// Marshal serializes p into its 28-byte-header-plus-payload wire form.
// Per spec §9 Open Question (b), lengths are always unsigned 32-bit and a
// payload that would push the total length past 2^31 is rejected
// defensively rather than silently wrapping.
func Marshal(p Packet) ([]byte, error) {
	if len(p.Payload) >= 1<<31-headerSize {
		return nil, fmt.Errorf("mux: payload too large: %d bytes", len(p.Payload))
	}
	total := uint32(headerSize + len(p.Payload))
	h := header{
		Protocol: Protocol,
		Length:   total,
		SrcPort:  p.SrcPort,
		DstPort:  p.DstPort,
		Seq:      p.Seq,
		Ack:      p.Ack,
		Offset:   0x50,
		Flags:    p.Flags,
		Window:   p.Window,
		Length16: uint16(total),
	}
	buf := new(bytes.Buffer)
	buf.Grow(headerSize + len(p.Payload))
	if err := struc.Pack(buf, &h); err != nil {
		return nil, fmt.Errorf("mux: failed packing header: %w", err)
	}
	buf.Write(p.Payload)
	return buf.Bytes(), nil
}

// Unmarshal parses one MuxPacket from a complete, exactly-sized wire
// buffer (headerSize + payload length, no trailing bytes). Use
// PeekTotalLength first if you only have a byte stream and need to know how
// many payload bytes to wait for.
func Unmarshal(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, fmt.Errorf("mux: packet too short: %d bytes", len(data))
	}
	var h header
	if err := struc.Unpack(bytes.NewReader(data[:headerSize]), &h); err != nil {
		return Packet{}, fmt.Errorf("mux: failed unpacking header: %w", err)
	}
	if h.Protocol != Protocol {
		return Packet{}, fmt.Errorf("mux: unexpected protocol %d, want %d", h.Protocol, Protocol)
	}
	wantTotal := h.Length
	if wantTotal < headerSize {
		return Packet{}, fmt.Errorf("mux: header declares length %d smaller than header size", wantTotal)
	}
	if uint32(len(data)) != wantTotal {
		return Packet{}, fmt.Errorf("mux: declared length %d does not match buffer size %d", wantTotal, len(data))
	}
	payload := make([]byte, len(data)-headerSize)
	copy(payload, data[headerSize:])
	return Packet{
		SrcPort: h.SrcPort,
		DstPort: h.DstPort,
		Seq:     h.Seq,
		Ack:     h.Ack,
		Flags:   h.Flags,
		Window:  h.Window,
		Payload: payload,
	}, nil
}

// PeekTotalLength reads only the Length field out of a header-sized
// prefix, letting the transport's reader loop know how many more bytes to
// pull off the backend before calling Unmarshal.
func PeekTotalLength(headerBytes []byte) (uint32, error) {
	if len(headerBytes) < headerSize {
		return 0, fmt.Errorf("mux: header prefix too short: %d bytes", len(headerBytes))
	}
	var h header
	if err := struc.Unpack(bytes.NewReader(headerBytes[:headerSize]), &h); err != nil {
		return 0, fmt.Errorf("mux: failed unpacking header: %w", err)
	}
	if h.Length < headerSize {
		return 0, fmt.Errorf("mux: header declares length %d smaller than header size", h.Length)
	}
	return h.Length, nil
}

// HeaderSize exposes headerSize to other packages in this module (the
// transport's reader loop needs it to size its first read).
const HeaderSize = headerSize
