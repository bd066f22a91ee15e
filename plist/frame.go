package plist

import (
	"encoding/binary"
	"time"

	"github.com/hexmux/idevice"
)

// maxFrameSize bounds a single framed payload to guard against a corrupt
// or hostile length prefix exhausting memory (spec §4.3: "Payloads
// exceeding an implementation-defined maximum ... MAY be rejected").
const maxFrameSize = 16 * 1024 * 1024

// byteReceiver is the shape a MuxConnection satisfies; frame.go is
// decoupled from the mux package so lockdown and the service clients can
// share it without an import cycle.
type byteReceiver interface {
	Recv(timeout time.Duration) ([]byte, error)
}

// byteSender is the send half of the same connection contract.
type byteSender interface {
	Send([]byte) error
}

// WriteFrame writes a big-endian u32 length prefix followed by payload as
// a single Send call, satisfying the "single logical operation" framing
// requirement (spec §4.3) without relying on the connection to coalesce
// writes itself.
func WriteFrame(w byteSender, payload []byte) error {
	header := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	return w.Send(append(header, payload...))
}

// FrameReader reassembles length-prefixed frames out of a byteReceiver
// whose Recv delivers arbitrarily sized chunks, not exactly the amount
// requested (spec §4.3: "read exactly 4 bytes ... then exactly length
// bytes, looping until satisfied").
type FrameReader struct {
	r   byteReceiver
	buf []byte
}

// NewFrameReader wraps r for frame-at-a-time reading.
func NewFrameReader(r byteReceiver) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame blocks until one full frame has arrived, the connection
// errors, or timeout elapses while waiting on an individual Recv.
func (f *FrameReader) ReadFrame(timeout time.Duration) ([]byte, error) {
	header, err := f.readExactly(4, timeout)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if length > maxFrameSize {
		return nil, idevice.WrapDiagnostic(idevice.KindPlistError, "frame length exceeds maximum")
	}
	if length == 0 {
		return []byte{}, nil
	}
	return f.readExactly(int(length), timeout)
}

func (f *FrameReader) readExactly(n int, timeout time.Duration) ([]byte, error) {
	for len(f.buf) < n {
		chunk, err := f.r.Recv(timeout)
		if err != nil {
			// A partial frame already sits in buf, so the connection died or
			// timed out mid-frame rather than between frames; surface that
			// distinctly from the underlying cause (spec §4.3 framing).
			if len(f.buf) > 0 {
				return nil, idevice.Wrap(idevice.KindNotEnoughData, err)
			}
			return nil, err
		}
		f.buf = append(f.buf, chunk...)
	}
	out := f.buf[:n:n]
	f.buf = f.buf[n:]
	return out, nil
}
