// Package afc is a minimal read-only client for the Apple File Conduit
// service, built directly on the core mux/lockdown boundary to validate it
// end-to-end (spec §6 service-client boundary; SPEC_FULL §12). It issues a
// single request, AFC_OP_GET_DEVINFO, and stops there: no file or
// directory operations are in scope (spec.md §1 non-goals).
package afc

import (
	"bytes"
	"time"

	"github.com/hexmux/idevice"
	"github.com/lunixbochs/struc"
)

// headerSize is the fixed 40-byte AFC packet header: an 8-byte magic plus
// four little-endian u64 fields (original_source/src/AFC.h's AFCPacket).
const headerSize = 40

// opGetDeviceInfo is the only operation this client speaks (original
// AFC.h: AFC_GET_DEVINFO).
const opGetDeviceInfo uint64 = 0x0000000b

// opError and opSuccess are the two status operations a response header
// can carry instead of real data (original AFC.h: AFC_ERROR,
// AFC_SUCCESS_RESPONSE). An opError response's payload is a single u64
// error code (AFC.c: receive_AFC_data's param1).
const (
	opError   uint64 = 0x00000001
	opSuccess uint64 = 0x00000002
)

var magic = [8]byte{'C', 'F', 'A', '6', 'L', 'P', 'A', 'A'}

type header struct {
	Magic        [8]byte
	EntireLength uint64 `struc:"uint64,little"`
	ThisLength   uint64 `struc:"uint64,little"`
	PacketNum    uint64 `struc:"uint64,little"`
	Operation    uint64 `struc:"uint64,little"`
}

// packet is a decoded AFC packet: the fixed header, an (unused by this
// client) variable-length header payload, and the operation's payload.
type packet struct {
	op            uint64
	headerPayload []byte
	payload       []byte
}

// channel is the shape a mux.Connection (or a TLS-wrapped equivalent)
// satisfies; kept narrow and local so this package never imports mux
// directly (spec §6: service clients sit strictly above the core).
type channel interface {
	Send([]byte) error
	Recv(timeout time.Duration) ([]byte, error)
}

func encode(packetNum, operation uint64, headerPayload, payload []byte) ([]byte, error) {
	h := header{
		Magic:        magic,
		ThisLength:   uint64(headerSize + len(headerPayload)),
		EntireLength: uint64(headerSize + len(headerPayload) + len(payload)),
		PacketNum:    packetNum,
		Operation:    operation,
	}
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &h); err != nil {
		return nil, idevice.Wrap(idevice.KindInvalidArg, err)
	}
	out := buf.Bytes()
	out = append(out, headerPayload...)
	out = append(out, payload...)
	return out, nil
}

// frameReader reassembles one AFC packet at a time out of a channel whose
// Recv delivers arbitrarily sized chunks, the same reassembly strategy
// plist.FrameReader uses for its own length-prefixed frames (spec §4.3
// invariant, reapplied here since AFC's framing is not plist's).
type frameReader struct {
	ch  channel
	buf []byte
}

func newFrameReader(ch channel) *frameReader {
	return &frameReader{ch: ch}
}

func (f *frameReader) readExactly(n int, timeout time.Duration) ([]byte, error) {
	for len(f.buf) < n {
		chunk, err := f.ch.Recv(timeout)
		if err != nil {
			return nil, err
		}
		f.buf = append(f.buf, chunk...)
	}
	out := f.buf[:n:n]
	f.buf = f.buf[n:]
	return out, nil
}

func (f *frameReader) readPacket(timeout time.Duration) (packet, error) {
	raw, err := f.readExactly(headerSize, timeout)
	if err != nil {
		return packet{}, err
	}
	var h header
	if err := struc.Unpack(bytes.NewReader(raw), &h); err != nil {
		return packet{}, idevice.Wrap(idevice.KindBadHeader, err)
	}
	if h.Magic != magic {
		return packet{}, idevice.WrapDiagnostic(idevice.KindBadHeader, "afc: bad magic in response header")
	}
	if h.ThisLength < headerSize || h.EntireLength < h.ThisLength {
		return packet{}, idevice.WrapDiagnostic(idevice.KindBadHeader, "afc: inconsistent length fields")
	}

	headerPayload, err := f.readExactly(int(h.ThisLength-headerSize), timeout)
	if err != nil {
		return packet{}, err
	}
	payload, err := f.readExactly(int(h.EntireLength-h.ThisLength), timeout)
	if err != nil {
		return packet{}, err
	}
	return packet{op: h.Operation, headerPayload: headerPayload, payload: payload}, nil
}
