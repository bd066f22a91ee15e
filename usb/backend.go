// Package usb implements the bulk-USB backend adapter contract (spec §4.1,
// §6) that the mux transport is built on: claim the device's lockdown
// interface, drain stale data, perform the version handshake, then expose
// blocking bulk read/write with a millisecond timeout.
package usb

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Apple's vendor ID and the product ID range used by every iPhone/iPod
// Touch model this library targets (spec §4.1).
const (
	VendorApple   = 0x05AC
	ProductMin    = 0x1290
	ProductMax    = 0x1293
	Configuration = 3
	Interface     = 1
)

// Backend is the contract the mux transport consumes. Implementations
// serialize bulk-in and bulk-out independently (spec §5): a writer holds
// the out-mutex only for one bulk write, a reader holds the in-mutex only
// for one bulk read.
type Backend interface {
	BulkWrite(buf []byte, timeout time.Duration) (int, error)
	BulkRead(capacity int, timeout time.Duration) ([]byte, error)
	Close() error
}

// versionHeader is the 20-byte handshake exchanged once, right after the
// interface is claimed and stale bulk-in data drained. It mirrors
// original_source/src/usbmux.c's usbmux_version_header: type, length,
// major, minor, and a reserved trailing word, all big-endian u32s.
type versionHeader struct {
	Type     uint32 `struc:"uint32,big"`
	Length   uint32 `struc:"uint32,big"`
	Major    uint32 `struc:"uint32,big"`
	Minor    uint32 `struc:"uint32,big"`
	Reserved uint32 `struc:"uint32,big"`
}

const versionHeaderSize = 20

// PerformVersionHandshake writes the host's version header (major=1,
// minor=0) and reads exactly 20 bytes back. Any echoed major/minor other
// than 1/0 is reported as BadHeader (spec §4.1, §6).
func PerformVersionHandshake(b Backend, timeout time.Duration) error {
	out := packVersionHeader(versionHeader{Type: 0, Length: versionHeaderSize, Major: 1, Minor: 0})
	n, err := b.BulkWrite(out, timeout)
	if err != nil {
		return fmt.Errorf("usb: version handshake write: %w", err)
	}
	if n != len(out) {
		return fmt.Errorf("usb: version handshake short write: %d/%d", n, len(out))
	}
	in, err := readExactly(b, versionHeaderSize, timeout)
	if err != nil {
		return fmt.Errorf("usb: version handshake read: %w", err)
	}
	hdr, err := unpackVersionHeader(in)
	if err != nil {
		return err
	}
	if hdr.Major != 1 || hdr.Minor != 0 {
		return fmt.Errorf("usb: bad version header major=%d minor=%d", hdr.Major, hdr.Minor)
	}
	return nil
}

// DrainPendingInput reads with a short timeout until no more bytes are
// available, discarding whatever it finds. Used both at open time (before
// the version handshake) and at close time, per spec §4.1 and §4.6.
func DrainPendingInput(b Backend) {
	const drainTimeout = 20 * time.Millisecond
	for {
		data, err := b.BulkRead(4096, drainTimeout)
		if err != nil || len(data) == 0 {
			return
		}
		log.Tracef("usb: drained %d stale bytes", len(data))
	}
}

func readExactly(b Backend, n int, timeout time.Duration) ([]byte, error) {
	out := make([]byte, 0, n)
	deadline := time.Now().Add(timeout)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("usb: timed out reading %d bytes, got %d", n, len(out))
		}
		chunk, err := b.BulkRead(n-len(out), remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
