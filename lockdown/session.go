package lockdown

import (
	"crypto/tls"
	"time"

	"github.com/hexmux/idevice"
	"github.com/hexmux/idevice/pairing"
	"github.com/hexmux/idevice/plist"
	"github.com/hexmux/idevice/tlsbridge"
)

type startSessionRequest struct {
	Label      string
	Request    string
	HostID     string
	SystemBUID string
}

type startSessionResponse struct {
	Request          string
	SessionID        string
	EnableSessionSSL bool
	Error            string
}

// StartSession sends StartSession using the caller's pair record (spec
// §4.4). If the device asks for EnableSessionSSL, a TLS handshake runs
// immediately over the same mux connection and every subsequent request
// on this Client is routed through it (spec §3 lifecycle invariant).
func (c *Client) StartSession(record pairing.Record) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pairRecord = &record
	req := startSessionRequest{Label: "idevice", Request: "StartSession", HostID: record.HostID, SystemBUID: record.SystemBUID}
	var resp startSessionResponse
	if err := c.request(req, &resp); err != nil {
		return "", err
	}
	if err := checkError(resp.Error); err != nil {
		return "", err
	}

	c.sessionID = resp.SessionID
	c.state = StateSessioned

	if resp.EnableSessionSSL {
		tlsConn, err := tlsbridge.Handshake(c.conn, record)
		if err != nil {
			return "", err
		}
		c.tlsSession = tlsConn
		c.ch = tlsChannel{tlsConn}
		c.frames = plist.NewFrameReader(c.ch)
		c.state = StateSecured
	}

	return c.sessionID, nil
}

type stopSessionRequest struct {
	Label     string
	Request   string
	SessionID string
}

type stopSessionResponse struct {
	Request string
	Error   string
}

// StopSession tears down TLS (if active) first, then clears the session
// and returns lockdown to Handshook (spec §4.4).
func (c *Client) StopSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return nil
	}
	req := stopSessionRequest{Label: "idevice", Request: "StopSession", SessionID: c.sessionID}
	var resp stopSessionResponse
	err := c.request(req, &resp)

	if c.tlsSession != nil {
		_ = c.tlsSession.Close()
		c.tlsSession = nil
		c.ch = c.conn
		c.frames = plist.NewFrameReader(c.ch)
	}
	c.sessionID = ""
	if c.state != StateClosed {
		c.state = StateHandshook
	}
	if err != nil {
		return err
	}
	return checkError(resp.Error)
}

// tlsChannel adapts a *tls.Conn (a plain io.ReadWriter with deadlines) to
// the channel interface the request/response machinery speaks, so it
// works identically whether or not TLS is active.
type tlsChannel struct {
	conn *tls.Conn
}

func (t tlsChannel) Send(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t tlsChannel) Recv(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, 65536)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return nil, idevice.Err(idevice.KindTimeout)
		}
		return nil, err
	}
	return buf[:n], nil
}
