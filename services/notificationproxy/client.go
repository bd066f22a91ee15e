// Package notificationproxy is a minimal client for
// com.apple.mobile.notification_proxy: send ObserveNotification, receive
// RelayNotification callbacks on a background reader goroutine (spec §6
// service-client boundary, SPEC_FULL §12, Design Note §9 "Callback +
// thread for notifications"). Grounded on
// original_source/src/NotificationProxy.c and the teacher's
// ios/notificationproxy package; posting/sending arbitrary notifications
// and every notification name beyond observation is out of scope
// (spec.md §1 non-goals).
package notificationproxy

import (
	"sync"
	"time"

	"github.com/hexmux/idevice/plist"
	log "github.com/sirupsen/logrus"
)

// channel is the shape a mux.Connection or TLS-wrapped equivalent
// satisfies, kept local so this package never imports mux directly.
type channel interface {
	Send([]byte) error
	Recv(timeout time.Duration) ([]byte, error)
}

type request struct {
	Command string
	Name    string `plist:"Name,omitempty"`
}

// Client observes device-originated notifications and delivers them on
// Notifications. One reader goroutine owns the underlying channel for the
// life of the Client, the same "callback + thread" shape the teacher uses
// for its own notification proxy (ios/notificationproxy.go).
type Client struct {
	ch      channel
	frames  *plist.FrameReader
	timeout time.Duration

	mu        sync.Mutex
	observing map[string]struct{}
	closed    bool

	Notifications chan string
	done          chan struct{}
}

// New wraps ch (already connected to the notification_proxy service port)
// and starts its background reader.
func New(ch channel) *Client {
	c := &Client{
		ch:            ch,
		frames:        plist.NewFrameReader(ch),
		timeout:       5 * time.Minute,
		observing:     make(map[string]struct{}),
		Notifications: make(chan string, 16),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Observe registers interest in notification. Idempotent: observing the
// same name twice sends only one ObserveNotification request (matches the
// teacher's newNotification bookkeeping).
func (c *Client) Observe(notification string) error {
	c.mu.Lock()
	if _, already := c.observing[notification]; already {
		c.mu.Unlock()
		return nil
	}
	c.observing[notification] = struct{}{}
	c.mu.Unlock()

	data, err := plist.Encode(request{Command: "ObserveNotification", Name: notification}, plist.XML)
	if err != nil {
		return err
	}
	return plist.WriteFrame(c.ch, data)
}

// WaitFor blocks until notification arrives, the proxy reports it died, or
// timeout elapses, observing it first if not already (original
// NotificationProxy.c's model: one blocking wait per notification name).
func (c *Client) WaitFor(notification string, timeout time.Duration) error {
	if err := c.Observe(notification); err != nil {
		return err
	}
	deadline := time.After(timeout)
	for {
		select {
		case n := <-c.Notifications:
			if n == notification {
				return nil
			}
		case <-c.done:
			return errProxyDied
		case <-deadline:
			return errTimeout
		}
	}
}

// Close sends Shutdown best-effort (original NotificationProxy.c:
// np_client_free sends Shutdown first), then closes the channel if it has a
// Close method; the reader goroutine stops once its Recv fails on the
// closed channel. A channel without a Close method is left open and its
// reader keeps running.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	data, err := plist.Encode(request{Command: "Shutdown"}, plist.XML)
	if err == nil {
		_ = plist.WriteFrame(c.ch, data)
	}
	if closer, ok := c.ch.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		raw, err := c.frames.ReadFrame(c.timeout)
		if err != nil {
			log.WithError(err).Debug("notificationproxy: reader loop stopping")
			return
		}
		msg, err := plist.DecodeDict(raw)
		if err != nil {
			log.WithError(err).Warn("notificationproxy: dropping unparseable message")
			continue
		}
		command, _ := msg["Command"].(string)
		switch command {
		case "RelayNotification":
			name, _ := msg["Name"].(string)
			c.Notifications <- name
		case "ProxyDeath":
			return
		default:
			log.WithField("command", command).Debug("notificationproxy: unknown message")
		}
	}
}
