package afc

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hexmux/idevice"
)

const defaultTimeout = 10 * time.Second

// DeviceInfo is the flattened key/value dictionary AFC_GET_DEVINFO returns
// (original AFC.c's make_strings_list, consumed raw rather than parsed
// into named fields since the key set varies by iOS version).
type DeviceInfo map[string]string

// Client issues read-only AFC requests over an already-open channel: a
// *mux.Connection straight from Device.Connect, or a TLS-wrapped
// equivalent once a service has EnableServiceSSL set (spec §6).
type Client struct {
	mu     sync.Mutex
	ch     channel
	frames *frameReader
	seq    uint64
}

// New wraps ch (already connected to the com.apple.mobile.file_relay or
// afc service port lockdown's StartService handed back) as a Client.
func New(ch channel) *Client {
	return &Client{ch: ch, frames: newFrameReader(ch)}
}

// GetDeviceInfo issues AFC_OP_GET_DEVINFO and parses the NUL-separated
// key/value response (original AFC.c: iphone_afc_get_devinfo).
func (c *Client) GetDeviceInfo() (DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	req, err := encode(c.seq, opGetDeviceInfo, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.ch.Send(req); err != nil {
		return nil, idevice.Wrap(idevice.KindMuxError, err)
	}

	resp, err := c.frames.readPacket(defaultTimeout)
	if err != nil {
		return nil, err
	}
	if resp.op == opError {
		return nil, afcError(resp.payload)
	}
	return parseDeviceInfo(resp.payload), nil
}

// afcError decodes an AFC_ERROR response's u64 error-code payload
// (original AFC.c: receive_AFC_data's param1/afcerror handling).
func afcError(payload []byte) error {
	var code uint64
	if len(payload) >= 8 {
		for i := 7; i >= 0; i-- {
			code = code<<8 | uint64(payload[i])
		}
	}
	return idevice.WrapDiagnostic(idevice.KindInvalidService, "afc: device returned error code "+strconv.FormatUint(code, 10))
}

func parseDeviceInfo(payload []byte) DeviceInfo {
	info := DeviceInfo{}
	fields := bytes.Split(payload, []byte{0})
	for i := 0; i+1 < len(fields); i += 2 {
		key := strings.TrimSpace(string(fields[i]))
		if key == "" {
			continue
		}
		info[key] = string(fields[i+1])
	}
	return info
}
