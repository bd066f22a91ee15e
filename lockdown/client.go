// Package lockdown implements the control-channel client that speaks to
// lockdownd on port 62078: session negotiation, pairing, the in-band TLS
// upgrade, and the get_value/start_service RPCs that hand out real
// service ports (spec §4.4).
package lockdown

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/hexmux/idevice"
	"github.com/hexmux/idevice/mux"
	"github.com/hexmux/idevice/pairing"
	"github.com/hexmux/idevice/plist"
	log "github.com/sirupsen/logrus"
)

// State tracks the lockdown session state machine from spec §4.4.
type State int

const (
	StateFresh State = iota
	StateHandshook
	StatePaired
	StateSessioned
	StateSecured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateHandshook:
		return "Handshook"
	case StatePaired:
		return "Paired"
	case StateSessioned:
		return "Sessioned"
	case StateSecured:
		return "Secured"
	default:
		return "Closed"
	}
}

// channel is the shape a lockdown Client speaks over: the raw
// MuxConnection before StartSession's TLS upgrade, or a TLS-wrapped
// adapter after it. Everything above this line stays oblivious to which
// one is active (spec §4.4 lifecycle invariant).
type channel interface {
	Send([]byte) error
	Recv(timeout time.Duration) ([]byte, error)
}

const defaultTimeout = 10 * time.Second

// Client drives one logical connection to lockdownd. Every exported
// request method is safe to call concurrently; requests are serialized by
// mu, matching every other service client's per-instance mutex (spec §5).
type Client struct {
	mu sync.Mutex

	conn    *mux.Connection // always the underlying transport, even once tlsSession is active
	ch      channel         // conn itself, or a TLS-wrapping adapter after StartSession
	frames  *plist.FrameReader
	timeout time.Duration

	state      State
	sessionID  string
	pairRecord *pairing.Record
	tlsSession *tls.Conn // non-nil once Secured
}

// New wraps conn (already opened to LockdownPort) as a fresh lockdown
// Client in state Fresh.
func New(conn *mux.Connection) *Client {
	c := &Client{conn: conn, ch: conn, timeout: defaultTimeout, state: StateFresh}
	c.frames = plist.NewFrameReader(conn)
	return c
}

// SetPairRecord installs a previously persisted pair record, letting
// StartSession skip pairing entirely (spec §4.4 Paired state).
func (c *Client) SetPairRecord(record pairing.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairRecord = &record
	if c.state == StateFresh || c.state == StateHandshook {
		c.state = StatePaired
	}
}

// State returns the client's current position in the lockdown state
// machine.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// request sends req as an XML plist frame and decodes the response into
// resp. Callers hold c.mu for the duration; a single Client instance
// pipelines one request at a time (spec §5: "request/response pairs are
// atomic").
func (c *Client) request(req, resp interface{}) error {
	data, err := plist.Encode(req, plist.XML)
	if err != nil {
		return idevice.Wrap(idevice.KindPlistError, err)
	}
	if err := plist.WriteFrame(c.ch, data); err != nil {
		return idevice.Wrap(idevice.KindMuxError, err)
	}
	raw, err := c.frames.ReadFrame(c.timeout)
	if err != nil {
		return err
	}
	if err := plist.Decode(raw, resp); err != nil {
		return idevice.Wrap(idevice.KindPlistError, err)
	}
	return nil
}

// checkError maps a lockdown response's Error field, if any, to the core
// error taxonomy (spec §7: "Lockdown Error strings are mapped 1:1").
func checkError(errField string) error {
	if errField == "" {
		return nil
	}
	return idevice.LockdownError(errField)
}

// Close tears down TLS if active, sends StopSession best-effort, and
// FIN-closes the underlying mux connection (spec §4.4 StopSession/close).
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		if err := c.StopSession(); err != nil {
			log.WithError(err).Debug("lockdown: best-effort StopSession failed on close")
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	tlsSession := c.tlsSession
	c.mu.Unlock()

	if tlsSession != nil {
		return tlsSession.Close()
	}
	return c.conn.Close()
}
