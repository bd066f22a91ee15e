package lockdown

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hexmux/idevice"
	"github.com/hexmux/idevice/mux"
	iplist "github.com/hexmux/idevice/plist"
	"github.com/stretchr/testify/require"
	plist "howett.net/plist"
)

// fakeBackend is the same minimal in-memory usb.Backend shape used by the
// mux and tlsbridge packages' own tests.
type fakeBackend struct {
	toDevice   chan []byte
	fromDevice chan []byte
	closed     atomic.Bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{toDevice: make(chan []byte, 64), fromDevice: make(chan []byte, 64)}
}

func (f *fakeBackend) BulkWrite(buf []byte, timeout time.Duration) (int, error) {
	if f.closed.Load() {
		return 0, fmt.Errorf("closed")
	}
	cp := append([]byte(nil), buf...)
	select {
	case f.toDevice <- cp:
		return len(buf), nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("write timeout")
	}
}

func (f *fakeBackend) BulkRead(capacity int, timeout time.Duration) ([]byte, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("closed")
	}
	select {
	case chunk := <-f.fromDevice:
		return chunk, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeBackend) push(pkt mux.Packet) {
	data, err := mux.Marshal(pkt)
	if err != nil {
		panic(err)
	}
	f.fromDevice <- data[:mux.HeaderSize]
	if len(data) > mux.HeaderSize {
		f.fromDevice <- data[mux.HeaderSize:]
	}
}

// fakeLockdownd plays just enough of the device side of the protocol to
// exercise Client: it completes the SYN handshake, then answers every
// plist-framed request it receives with whatever responder returns.
func fakeLockdownd(f *fakeBackend, stop <-chan struct{}, respond func(request map[string]interface{}) interface{}) {
	var deviceSeq uint32
	var pending []byte
	ourPort, devicePort := uint16(0), uint16(0)
	for {
		select {
		case <-stop:
			return
		case raw := <-f.toDevice:
			pkt, err := mux.Unmarshal(raw)
			if err != nil {
				continue
			}
			switch {
			case pkt.Flags&mux.FlagSYN != 0:
				ourPort, devicePort = pkt.DstPort, pkt.SrcPort
				f.push(mux.Packet{SrcPort: pkt.DstPort, DstPort: pkt.SrcPort, Flags: mux.FlagSYN | mux.FlagACK})
			case pkt.Flags&mux.FlagFIN != 0:
				f.push(mux.Packet{SrcPort: pkt.DstPort, DstPort: pkt.SrcPort, Flags: mux.FlagFIN})
			case len(pkt.Payload) > 0:
				pending = append(pending, pkt.Payload...)
				ack := pkt.Seq + uint32(len(pkt.Payload))
				f.push(mux.Packet{SrcPort: ourPort, DstPort: devicePort, Seq: deviceSeq, Ack: ack, Flags: mux.FlagACK})

				for {
					frame, rest, ok := tryExtractFrame(pending)
					if !ok {
						break
					}
					pending = rest
					var req map[string]interface{}
					_, _ = plist.Unmarshal(frame, &req)
					respObj := respond(req)
					respData, err := iplist.Encode(respObj, iplist.XML)
					if err != nil {
						panic(err)
					}
					header := make([]byte, 4)
					header[0] = byte(len(respData) >> 24)
					header[1] = byte(len(respData) >> 16)
					header[2] = byte(len(respData) >> 8)
					header[3] = byte(len(respData))
					wire := append(header, respData...)
					f.push(mux.Packet{SrcPort: ourPort, DstPort: devicePort, Seq: deviceSeq, Ack: ack, Flags: mux.FlagACK, Payload: wire})
					deviceSeq += uint32(len(wire))
				}
			}
		}
	}
}

func tryExtractFrame(buf []byte) (frame []byte, rest []byte, ok bool) {
	if len(buf) < 4 {
		return nil, buf, false
	}
	length := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if len(buf) < 4+length {
		return nil, buf, false
	}
	return buf[4 : 4+length], buf[4+length:], true
}

func TestQueryType(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} {
		require.Equal(t, "QueryType", req["Request"])
		return map[string]interface{}{"Request": "QueryType", "Type": "com.apple.mobile.lockdown"}
	})

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	typ, err := client.QueryType()
	require.NoError(t, err)
	require.Equal(t, "com.apple.mobile.lockdown", typ)
	require.Equal(t, StateHandshook, client.State())
}

func TestQueryTypeWrongTypeIsFatal(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} {
		return map[string]interface{}{"Request": "QueryType", "Type": "com.apple.bogus"}
	})

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	_, err = client.QueryType()
	require.Error(t, err)
}

func TestGetValue(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} {
		require.Equal(t, "GetValue", req["Request"])
		require.Equal(t, "DeviceName", req["Key"])
		return map[string]interface{}{"Request": "GetValue", "Key": "DeviceName", "Value": "Test iPhone"}
	})

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	val, err := client.GetValue("", "DeviceName")
	require.NoError(t, err)
	require.Equal(t, "Test iPhone", val)
}

func TestGetValueErrorMapsToKnownKind(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} {
		return map[string]interface{}{"Request": "GetValue", "Error": "MissingValue"}
	})

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	_, err = client.GetValue("", "Nonexistent")
	require.Error(t, err)
	require.ErrorIs(t, err, idevice.Err(idevice.KindInvalidArg))
}

func TestStartServiceReturnsPort(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} {
		require.Equal(t, "com.apple.mobile.notification_proxy", req["Service"])
		return map[string]interface{}{"Request": "StartService", "Service": req["Service"], "Port": uint64(61000), "EnableServiceSSL": false}
	})

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	info, err := client.StartService("com.apple.mobile.notification_proxy")
	require.NoError(t, err)
	require.EqualValues(t, 61000, info.Port)
	require.False(t, info.EnableServiceSSL)
}

func TestStopSessionNoopWithoutSession(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} { return nil })

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	require.NoError(t, client.StopSession())
}
