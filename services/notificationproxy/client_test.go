package notificationproxy

import (
	"sync"
	"testing"
	"time"

	"github.com/hexmux/idevice/plist"
	"github.com/stretchr/testify/require"
)

// fakeChannel is the same kind of minimal channel double the afc
// package's own tests use.
type fakeChannel struct {
	mu     sync.Mutex
	outbox [][]byte
	inbox  chan []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbox: make(chan []byte, 16)}
}

func (f *fakeChannel) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, append([]byte(nil), p...))
	return nil
}

func (f *fakeChannel) Recv(timeout time.Duration) ([]byte, error) {
	select {
	case chunk := <-f.inbox:
		return chunk, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeChannel) pushMessage(t *testing.T, msg interface{}) {
	data, err := plist.Encode(msg, plist.XML)
	require.NoError(t, err)
	var wire []byte
	require.NoError(t, plist.WriteFrame(wireSender{&wire}, data))
	f.inbox <- wire
}

// wireSender captures WriteFrame's output instead of sending it anywhere,
// letting pushMessage reuse the real framing logic to build test fixtures.
type wireSender struct {
	out *[]byte
}

func (w wireSender) Send(p []byte) error {
	*w.out = append(*w.out, p...)
	return nil
}

func (f *fakeChannel) lastRequest(t *testing.T) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.outbox)
	raw := f.outbox[len(f.outbox)-1]
	var req map[string]interface{}
	require.NoError(t, plist.Decode(raw[4:], &req))
	return req
}

func TestObserveSendsRequestOnce(t *testing.T) {
	ch := newFakeChannel()
	client := New(ch)
	defer client.Close()

	require.NoError(t, client.Observe("com.apple.springboard.finishedstartup"))
	require.NoError(t, client.Observe("com.apple.springboard.finishedstartup"))

	ch.mu.Lock()
	sent := len(ch.outbox)
	ch.mu.Unlock()
	require.Equal(t, 1, sent)

	req := ch.lastRequest(t)
	require.Equal(t, "ObserveNotification", req["Command"])
	require.Equal(t, "com.apple.springboard.finishedstartup", req["Name"])
}

func TestWaitForReceivesRelayedNotification(t *testing.T) {
	ch := newFakeChannel()
	client := New(ch)
	defer client.Close()

	ch.pushMessage(t, map[string]interface{}{
		"Command": "RelayNotification",
		"Name":    "com.apple.springboard.finishedstartup",
	})

	require.NoError(t, client.WaitFor("com.apple.springboard.finishedstartup", time.Second))
}

func TestWaitForReturnsErrorOnProxyDeath(t *testing.T) {
	ch := newFakeChannel()
	client := New(ch)
	defer client.Close()

	ch.pushMessage(t, map[string]interface{}{"Command": "ProxyDeath"})

	err := client.WaitFor("com.apple.some.notification", time.Second)
	require.Error(t, err)
}
