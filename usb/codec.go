package usb

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

func packVersionHeader(h versionHeader) []byte {
	buf := new(bytes.Buffer)
	// versionHeader's fields are fixed-width big-endian u32s; struc.Pack
	// cannot fail for this shape, but we guard anyway since it returns an
	// error and this is the one place in the backend that must never
	// silently emit a short packet.
	if err := struc.Pack(buf, &h); err != nil {
		panic(fmt.Sprintf("usb: failed packing version header: %v", err))
	}
	return buf.Bytes()
}

func unpackVersionHeader(data []byte) (versionHeader, error) {
	var h versionHeader
	if len(data) != versionHeaderSize {
		return h, fmt.Errorf("usb: version header must be %d bytes, got %d", versionHeaderSize, len(data))
	}
	if err := struc.Unpack(bytes.NewReader(data), &h); err != nil {
		return h, fmt.Errorf("usb: failed unpacking version header: %w", err)
	}
	return h, nil
}
