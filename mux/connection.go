package mux

import (
	"bytes"
	"sync"
	"time"

	"github.com/hexmux/idevice/ideviceerr"
	log "github.com/sirupsen/logrus"
)

// State is a MuxConnection's position in the state machine from spec §4.2:
//
//	Connecting --SYN/ACK--> Open --FIN(local)--> HalfClosed --FIN(peer)|timeout--> Closed
//
// Any RST or protocol violation drives directly to Closed.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateHalfClosed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateHalfClosed:
		return "HalfClosed"
	default:
		return "Closed"
	}
}

// defaultWindow is the flow-control window this side advertises. The
// spec leaves window sizing to the implementation; a fixed generous value
// avoids ever stalling the (much slower) service protocols layered above.
const defaultWindow uint16 = 0x0200

// maxPayload bounds a single outbound packet so its total length (header +
// payload) fits the legacy 16-bit Length16 field every packet still
// carries (spec §9 Open Question (b) resolution, see DESIGN.md).
const maxPayload = 0xFFFF - HeaderSize

// Connection is one logical TCP-like stream multiplexed over the
// transport's bulk-USB pipe (spec §3 MuxConnection).
type Connection struct {
	transport *Transport
	srcPort   uint16
	dstPort   uint16

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	bytesSent         uint32 // our seq: total payload bytes sent
	peerBytesReceived uint32 // our ack: total payload bytes accepted from peer

	rx       bytes.Buffer
	closeErr error

	synResult chan error
}

func newConnection(t *Transport, srcPort, dstPort uint16) *Connection {
	c := &Connection{transport: t, srcPort: srcPort, dstPort: dstPort, synResult: make(chan error, 1)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SourcePort returns the locally allocated port (spec §3, §4.2 port
// allocation).
func (c *Connection) SourcePort() uint16 { return c.srcPort }

// DestPort returns the caller-supplied destination port.
func (c *Connection) DestPort() uint16 { return c.dstPort }

// State returns the connection's current state machine position.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send writes data to the peer, chunked into one or more MuxPackets.
// Every data packet carries the ACK flag and the current accepted-byte
// count (spec §4.2). A short bulk write never leaves a partial packet on
// the wire: the transport's out-mutex guarantees whole-packet atomicity,
// so a short write always fails the whole Send and closes the connection.
func (c *Connection) Send(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxPayload {
			n = maxPayload
		}
		chunk := data[:n]
		data = data[n:]

		c.mu.Lock()
		if c.state != StateOpen {
			err := c.terminalErrorLocked()
			c.mu.Unlock()
			return err
		}
		seq := c.bytesSent
		ack := c.peerBytesReceived
		c.mu.Unlock()

		pkt := Packet{SrcPort: c.srcPort, DstPort: c.dstPort, Seq: seq, Ack: ack, Flags: FlagACK, Window: defaultWindow, Payload: chunk}
		if err := c.transport.writePacket(pkt); err != nil {
			c.failLocked(ideviceerr.Wrap(ideviceerr.KindMuxError, err))
			return ideviceerr.Wrap(ideviceerr.KindMuxError, err)
		}

		c.mu.Lock()
		c.bytesSent += uint32(n)
		c.mu.Unlock()
	}
	return nil
}

// Recv blocks until bytes are buffered, the connection closes, or timeout
// elapses. timeout<=0 with nothing buffered returns KindTimeout
// immediately (spec §8 boundary behaviors).
func (c *Connection) Recv(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rx.Len() == 0 && c.state != StateClosed {
		if timeout <= 0 {
			return nil, ideviceerr.Err(ideviceerr.KindTimeout)
		}
		deadline := time.Now().Add(timeout)
		for c.rx.Len() == 0 && c.state != StateClosed {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, ideviceerr.Err(ideviceerr.KindTimeout)
			}
			timer := time.AfterFunc(remaining, c.cond.Broadcast)
			c.cond.Wait()
			timer.Stop()
		}
	}

	if c.rx.Len() == 0 {
		return nil, c.terminalErrorLocked()
	}
	data := make([]byte, c.rx.Len())
	_, _ = c.rx.Read(data)
	return data, nil
}

// terminalErrorLocked must be called with c.mu held; it reports why the
// connection can no longer be used.
func (c *Connection) terminalErrorLocked() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ideviceerr.Err(ideviceerr.KindClosed)
}

func (c *Connection) failLocked(err error) {
	c.mu.Lock()
	c.state = StateClosed
	c.closeErr = err
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Close performs a graceful FIN close (spec §4.2): send FIN, accept
// inbound payload until the peer's FIN or 500ms elapse, then Closed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateHalfClosed
	seq, ack := c.bytesSent, c.peerBytesReceived
	c.mu.Unlock()

	err := c.transport.writePacket(Packet{SrcPort: c.srcPort, DstPort: c.dstPort, Seq: seq, Ack: ack, Flags: FlagFIN, Window: defaultWindow})

	c.mu.Lock()
	deadline := time.Now().Add(500 * time.Millisecond)
	for c.state == StateHalfClosed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer := time.AfterFunc(remaining, c.cond.Broadcast)
		c.cond.Wait()
		timer.Stop()
	}
	c.state = StateClosed
	c.cond.Broadcast()
	c.mu.Unlock()

	c.transport.removeConnection(c.srcPort)
	return err
}

// Reset sends RST and transitions immediately to Closed (spec §4.2).
func (c *Connection) Reset() error {
	c.mu.Lock()
	seq, ack := c.bytesSent, c.peerBytesReceived
	c.state = StateClosed
	if c.closeErr == nil {
		c.closeErr = ideviceerr.Err(ideviceerr.KindClosed)
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	err := c.transport.writePacket(Packet{SrcPort: c.srcPort, DstPort: c.dstPort, Seq: seq, Ack: ack, Flags: FlagRST, Window: defaultWindow})
	c.transport.removeConnection(c.srcPort)
	return err
}

// forceClosed is invoked by the transport when the device goes away; it
// wakes every blocked Recv with KindClosed (spec §5 cancellation).
func (c *Connection) forceClosed(err error) {
	c.mu.Lock()
	c.state = StateClosed
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// handleInbound dispatches one decoded packet addressed to this
// connection; called from the transport's single reader goroutine.
func (c *Connection) handleInbound(pkt Packet) {
	c.mu.Lock()

	if c.state == StateConnecting {
		if pkt.Flags&FlagSYN != 0 && pkt.Flags&FlagACK != 0 {
			c.state = StateOpen
			c.mu.Unlock()
			c.synResult <- nil
			return
		}
		c.mu.Unlock()
		return
	}

	if pkt.Flags&FlagRST != 0 {
		c.state = StateClosed
		c.closeErr = ideviceerr.Err(ideviceerr.KindMuxError)
		c.cond.Broadcast()
		c.mu.Unlock()
		return
	}

	if pkt.Flags&FlagFIN != 0 {
		c.state = StateClosed
		c.cond.Broadcast()
		c.mu.Unlock()
		return
	}

	if len(pkt.Payload) == 0 {
		c.mu.Unlock()
		return
	}

	if pkt.Seq != c.peerBytesReceived {
		c.state = StateClosed
		c.closeErr = ideviceerr.Err(ideviceerr.KindMuxError)
		c.cond.Broadcast()
		c.mu.Unlock()
		log.WithFields(log.Fields{"port": c.srcPort, "want_seq": c.peerBytesReceived, "got_seq": pkt.Seq}).
			Warn("mux: out-of-order packet, closing connection")
		return
	}

	c.rx.Write(pkt.Payload)
	c.peerBytesReceived += uint32(len(pkt.Payload))
	c.cond.Broadcast()
	c.mu.Unlock()

	c.sendAck()
}

// sendAck emits a pure-ACK packet (zero payload) with the updated ack
// value, per spec §4.2 ACK policy. This module sends one ack per
// delivered packet rather than implementing the optional piggyback
// coalescing window the spec marks as a MAY.
func (c *Connection) sendAck() {
	c.mu.Lock()
	seq, ack := c.bytesSent, c.peerBytesReceived
	state := c.state
	c.mu.Unlock()
	if state == StateClosed {
		return
	}
	pkt := Packet{SrcPort: c.srcPort, DstPort: c.dstPort, Seq: seq, Ack: ack, Flags: FlagACK, Window: defaultWindow}
	if err := c.transport.writePacket(pkt); err != nil {
		log.WithError(err).Debug("mux: failed sending ack")
	}
}
