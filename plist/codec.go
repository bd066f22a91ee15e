// Package plist implements the property-list encode/decode and
// length-prefixed wire framing shared by the lockdown client and every
// service client layered above it (spec §4.3).
package plist

import (
	"github.com/hexmux/idevice"
	plist "howett.net/plist"
)

// Format selects which of the two on-the-wire plist encodings to produce.
type Format int

const (
	XML Format = iota
	Binary
)

// Encode serializes v as a plist in the given Format.
func Encode(v interface{}, format Format) ([]byte, error) {
	var f int
	switch format {
	case XML:
		f = plist.XMLFormat
	case Binary:
		f = plist.BinaryFormat
	default:
		return nil, idevice.Err(idevice.KindInvalidArg)
	}
	data, err := plist.Marshal(v, f)
	if err != nil {
		return nil, idevice.Wrap(idevice.KindPlistError, err)
	}
	return data, nil
}

// Decode parses data, which may be either XML or binary "bplist00", into v.
// The underlying library detects the format from the bytes themselves.
func Decode(data []byte, v interface{}) error {
	_, err := plist.Unmarshal(data, v)
	if err != nil {
		return idevice.Wrap(idevice.KindPlistError, err)
	}
	return nil
}

// DecodeDict is a convenience for the common case of a top-level dict,
// used throughout the lockdown request/response cycle.
func DecodeDict(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := Decode(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}
