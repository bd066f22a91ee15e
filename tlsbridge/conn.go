// Package tlsbridge adapts a MuxConnection onto the net.Conn contract
// crypto/tls expects, so a TLS session can run directly atop the
// USB-mux transport without any change to the framing layered above it
// (spec §4.5 TLS Bridge).
package tlsbridge

import (
	"net"
	"time"

	"github.com/hexmux/idevice/mux"
)

// defaultRecvPoll bounds how long a single underlying Recv call waits when
// no read deadline has been set, so Read can still notice a deadline set
// concurrently by SetReadDeadline.
const defaultRecvPoll = 2 * time.Second

// Conn wraps a *mux.Connection as a net.Conn. TLS's record layer issues
// arbitrarily sized Read/Write calls; Conn buffers leftover bytes between
// calls the same way plist.FrameReader buffers leftover frame bytes.
type Conn struct {
	conn *mux.Connection
	buf  []byte

	readDeadline  time.Time
	writeDeadline time.Time
}

// New wraps conn for use as a net.Conn.
func New(conn *mux.Connection) *Conn {
	return &Conn{conn: conn}
}

func (c *Conn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		timeout := defaultRecvPoll
		hasDeadline := !c.readDeadline.IsZero()
		if hasDeadline {
			timeout = time.Until(c.readDeadline)
			if timeout <= 0 {
				return 0, timeoutError{}
			}
		}
		chunk, err := c.conn.Recv(timeout)
		if err != nil {
			mapped := mapRecvError(err)
			if _, isTimeout := mapped.(timeoutError); isTimeout && !hasDeadline {
				continue
			}
			return 0, mapped
		}
		c.buf = chunk
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.conn.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) LocalAddr() net.Addr  { return muxAddr{port: c.conn.SourcePort()} }
func (c *Conn) RemoteAddr() net.Addr { return muxAddr{port: c.conn.DestPort()} }

func (c *Conn) SetDeadline(t time.Time) error {
	c.readDeadline, c.writeDeadline = t, t
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline = t
	return nil
}

// muxAddr is a trivial net.Addr for a mux port; the mux protocol has no
// network-address concept beyond its 16-bit ports.
type muxAddr struct {
	port uint16
}

func (muxAddr) Network() string { return "usbmux" }
func (a muxAddr) String() string {
	return "usbmux:" + portString(a.port)
}

func portString(p uint16) string {
	const hex = "0123456789abcdef"
	buf := [4]byte{hex[p>>12&0xf], hex[p>>8&0xf], hex[p>>4&0xf], hex[p&0xf]}
	return string(buf[:])
}
