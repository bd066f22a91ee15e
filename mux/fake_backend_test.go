package mux

import (
	"fmt"
	"sync/atomic"
	"time"
)

// fakeBackend is an in-memory stand-in for usb.Backend used to drive
// Transport/Connection tests without real hardware. Bytes written by the
// transport land on toDevice; a deviceSim goroutine consumes them, plays
// the device's side of the protocol, and pushes response chunks onto
// fromDevice for the transport's reader loop to consume.
type fakeBackend struct {
	toDevice   chan []byte
	fromDevice chan []byte
	closed     atomic.Bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		toDevice:   make(chan []byte, 64),
		fromDevice: make(chan []byte, 64),
	}
}

func (f *fakeBackend) BulkWrite(buf []byte, timeout time.Duration) (int, error) {
	if f.closed.Load() {
		return 0, fmt.Errorf("fake backend closed")
	}
	cp := append([]byte(nil), buf...)
	select {
	case f.toDevice <- cp:
		return len(buf), nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("fake backend write timeout")
	}
}

func (f *fakeBackend) BulkRead(capacity int, timeout time.Duration) ([]byte, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("fake backend closed")
	}
	select {
	case chunk := <-f.fromDevice:
		if len(chunk) > capacity {
			panic("fakeBackend: test chunk larger than requested capacity")
		}
		return chunk, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

// pushPacket delivers pkt to the transport's reader loop as the two reads
// readExactly performs: one for the header, one for the payload.
func (f *fakeBackend) pushPacket(pkt Packet) {
	data, err := Marshal(pkt)
	if err != nil {
		panic(err)
	}
	f.fromDevice <- data[:HeaderSize]
	if len(data) > HeaderSize {
		f.fromDevice <- data[HeaderSize:]
	}
}

// deviceSim plays a minimal, well-behaved device: SYN gets SYN+ACK, data
// gets echoed back with an ack, FIN gets FIN. It runs until stop is
// closed.
func deviceSim(f *fakeBackend, stop <-chan struct{}) {
	var deviceSeq uint32
	for {
		select {
		case <-stop:
			return
		case raw := <-f.toDevice:
			pkt, err := Unmarshal(raw)
			if err != nil {
				continue
			}
			switch {
			case pkt.Flags&FlagSYN != 0:
				f.pushPacket(Packet{SrcPort: pkt.DstPort, DstPort: pkt.SrcPort, Flags: FlagSYN | FlagACK, Window: defaultWindow})
			case pkt.Flags&FlagFIN != 0:
				f.pushPacket(Packet{SrcPort: pkt.DstPort, DstPort: pkt.SrcPort, Flags: FlagFIN, Window: defaultWindow})
			case pkt.Flags&FlagRST != 0:
				// no reply
			case len(pkt.Payload) > 0:
				ack := pkt.Seq + uint32(len(pkt.Payload))
				f.pushPacket(Packet{SrcPort: pkt.DstPort, DstPort: pkt.SrcPort, Seq: deviceSeq, Ack: ack, Flags: FlagACK, Window: defaultWindow, Payload: pkt.Payload})
				deviceSeq += uint32(len(pkt.Payload))
			}
		}
	}
}
