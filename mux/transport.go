package mux

import (
	"fmt"
	"sync"
	"time"

	"github.com/hexmux/idevice/ideviceerr"
	"github.com/hexmux/idevice/usb"
	log "github.com/sirupsen/logrus"
)

// startPort is the first source port handed out; spec §3 fixes it at
// 0x1234.
const startPort uint16 = 0x1234

// pollTimeout bounds each individual bulk read the reader loop issues, so
// it periodically notices Transport.Close() without an artificial upper
// bound on how long it waits for the next packet.
const pollTimeout = 200 * time.Millisecond

// Transport frames MuxPackets over a single usb.Backend and demultiplexes
// them into per-connection receive buffers (spec §3 MuxTransport, §4.2).
// It is single-owner inside its Device: one Transport per attached device.
type Transport struct {
	backend usb.Backend

	outMu sync.Mutex // serializes whole-packet writes (spec §5)

	mu          sync.Mutex
	nextPort    uint16
	connections map[uint16]*Connection
	closed      bool
	tracer      PacketTracer

	readerDone chan struct{}
}

// PacketTracer observes every MuxPacket crossing the wire, in either
// direction, without participating in the transport itself. The `trace`
// package's pcap dumper implements this; Transport never imports `trace`
// so the dependency only points one way (spec §9 Design Note "optional
// wire-format tracing").
type PacketTracer interface {
	Trace(pkt Packet, outbound bool)
}

// SetTracer installs or clears (pass nil) the transport's packet tracer.
func (t *Transport) SetTracer(tr PacketTracer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracer = tr
}

func (t *Transport) trace(pkt Packet, outbound bool) {
	t.mu.Lock()
	tr := t.tracer
	t.mu.Unlock()
	if tr != nil {
		tr.Trace(pkt, outbound)
	}
}

// NewTransport wraps backend and starts the single dedicated reader task
// that owns bulk-in for the lifetime of the transport (spec §4.2, §5).
func NewTransport(backend usb.Backend) *Transport {
	t := &Transport{
		backend:     backend,
		nextPort:    startPort,
		connections: make(map[uint16]*Connection),
		readerDone:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Connect allocates a source port and drives Connecting -> Open, sending
// SYN and awaiting the device's SYN+ACK (spec §4.2 "Connection open").
func (t *Transport) Connect(destPort uint16, timeout time.Duration) (*Connection, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ideviceerr.Err(ideviceerr.KindClosed)
	}
	srcPort := t.nextPort
	t.nextPort++
	conn := newConnection(t, srcPort, destPort)
	conn.state = StateConnecting
	t.connections[srcPort] = conn
	t.mu.Unlock()

	err := t.writePacket(Packet{SrcPort: srcPort, DstPort: destPort, Seq: 0, Ack: 0, Flags: FlagSYN, Window: defaultWindow})
	if err != nil {
		t.removeConnection(srcPort)
		return nil, ideviceerr.Wrap(ideviceerr.KindMuxError, err)
	}

	select {
	case err := <-conn.synResult:
		if err != nil {
			t.removeConnection(srcPort)
			return nil, err
		}
		return conn, nil
	case <-time.After(timeout):
		t.removeConnection(srcPort)
		return nil, ideviceerr.Err(ideviceerr.KindTimeout)
	}
}

func (t *Transport) removeConnection(srcPort uint16) {
	t.mu.Lock()
	delete(t.connections, srcPort)
	t.mu.Unlock()
}

func (t *Transport) lookupConnection(srcPort uint16) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.connections[srcPort]
	return c, ok
}

// writePacket marshals and writes one MuxPacket atomically. Any short
// bulk write is a MuxError; a partial packet must never be observable on
// the wire (spec §4.2), so a short write fails the packet as a whole;
// Connection.Send then closes the connection that issued it.
func (t *Transport) writePacket(pkt Packet) error {
	data, err := Marshal(pkt)
	if err != nil {
		return err
	}
	t.outMu.Lock()
	defer t.outMu.Unlock()
	n, err := t.backend.BulkWrite(data, pollTimeout)
	if err != nil {
		return fmt.Errorf("mux: bulk write failed: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("mux: short bulk write: %d/%d bytes", n, len(data))
	}
	t.trace(pkt, true)
	return nil
}

// readLoop is the transport's single dedicated reader (spec §5): it owns
// bulk-in exclusively, reconstructs whole packets, and dispatches payload
// into the addressed Connection's rx buffer.
func (t *Transport) readLoop() {
	defer close(t.readerDone)
	for {
		if t.isClosed() {
			return
		}
		hdrBytes, err := t.readExactly(HeaderSize)
		if err != nil {
			if t.isClosed() {
				return
			}
			log.WithError(err).Debug("mux: reader loop stopping after backend error")
			t.shutdown(ideviceerr.Wrap(ideviceerr.KindMuxError, err))
			return
		}
		if hdrBytes == nil {
			continue // poll timeout, no data yet
		}
		total, err := PeekTotalLength(hdrBytes)
		if err != nil {
			log.WithError(err).Warn("mux: dropping packet with bad header")
			continue
		}
		payloadLen := int(total) - HeaderSize
		var payload []byte
		if payloadLen > 0 {
			payload, err = t.readExactly(payloadLen)
			if err != nil {
				log.WithError(err).Debug("mux: reader loop stopping mid-packet")
				t.shutdown(ideviceerr.Wrap(ideviceerr.KindMuxError, err))
				return
			}
			if payload == nil {
				log.Warn("mux: dropping packet, timed out reading payload")
				continue
			}
		}
		full := append(append([]byte{}, hdrBytes...), payload...)
		pkt, err := Unmarshal(full)
		if err != nil {
			log.WithError(err).Warn("mux: dropping unparseable packet")
			continue
		}
		t.trace(pkt, false)
		conn, ok := t.lookupConnection(pkt.DstPort)
		if !ok {
			log.WithField("port", pkt.DstPort).Debug("mux: packet for unknown port dropped")
			continue
		}
		conn.handleInbound(pkt)
	}
}

// readExactly polls the backend until n bytes accumulate, the transport
// closes, or the backend errors. It returns (nil, nil) if a single poll
// window elapsed with zero bytes collected so far, letting readLoop check
// for shutdown between polls without blocking indefinitely on n==0 reads.
func (t *Transport) readExactly(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		if t.isClosed() {
			return nil, ideviceerr.Err(ideviceerr.KindClosed)
		}
		chunk, err := t.backend.BulkRead(n-len(out), pollTimeout)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			if len(out) == 0 {
				return nil, nil
			}
			continue
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// shutdown marks the transport closed and wakes every connection's
// blocked Recv with err (spec §5: "Closing the Device wakes all rx
// condvars of its connections").
func (t *Transport) shutdown(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conns := make([]*Connection, 0, len(t.connections))
	for _, c := range t.connections {
		conns = append(conns, c)
	}
	t.connections = make(map[uint16]*Connection)
	t.mu.Unlock()

	for _, c := range conns {
		c.forceClosed(err)
	}
}

// Stop resets every live connection (spec §4.6: "Closing a Device with any
// live MuxConnection is allowed; they are forcibly reset first") and stops
// the reader loop, but leaves the backend open so a caller can drain
// residual bulk-in before releasing the USB interface itself.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	conns := make([]*Connection, 0, len(t.connections))
	for _, c := range t.connections {
		conns = append(conns, c)
	}
	t.closed = true
	t.connections = make(map[uint16]*Connection)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Reset()
	}
	<-t.readerDone
}

// Close stops the reader loop and closes the underlying backend. Callers
// that need to drain residual bulk-in between resetting connections and
// releasing the interface should call Stop and close the backend
// themselves instead (see Device.Close).
func (t *Transport) Close() error {
	t.Stop()
	return t.backend.Close()
}

// ConnectionCount reports how many connections are currently tracked;
// used by tests exercising invariant 4 (N opens allocate N distinct ports).
func (t *Transport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connections)
}
