package idevice

import (
	"fmt"
	"sync"
	"time"

	"github.com/hexmux/idevice/mux"
	"github.com/hexmux/idevice/usb"
	log "github.com/sirupsen/logrus"
)

// LockdownPort is the well-known dest port lockdownd listens on (spec §3,
// §6).
const LockdownPort uint16 = 62078

// Device represents one attached iPhone/iPod Touch, identified by its
// 40-hex-digit UDID. It owns the USB backend handle and the Mux Transport
// built on top of it (spec §3 Device, §4.6).
type Device struct {
	UUID string

	backend usb.Backend
	mux     *mux.Transport

	mu     sync.Mutex
	closed bool
}

// Open enumerates attached Apple mobile devices and opens one. If uuid is
// non-empty, it must match a device's iSerialNumber string descriptor
// exactly; otherwise the first matching device is opened (spec §4.6).
func Open(uuid string, cfg Config) (*Device, error) {
	descs, err := usb.Enumerate()
	if err != nil {
		return nil, Wrap(KindNoDevice, err)
	}
	if len(descs) == 0 {
		return nil, Err(KindNoDevice)
	}

	desc := descs[0]
	if uuid != "" {
		found := false
		for _, d := range descs {
			if d.Serial == uuid {
				desc, found = d, true
				break
			}
		}
		if !found {
			return nil, WrapDiagnostic(KindNoDevice, fmt.Sprintf("no attached device with serial %s", uuid))
		}
	}

	inEP, outEP, err := usb.DiscoverEndpoints(desc.Bus, desc.Address)
	if err != nil {
		return nil, Wrap(KindNoDevice, err)
	}
	backend, err := usb.OpenLinuxBackend(desc.Bus, desc.Address, inEP, outEP)
	if err != nil {
		return nil, Wrap(KindNoDevice, err)
	}

	timeout := time.Duration(cfg.UsbTimeoutMs) * time.Millisecond
	usb.DrainPendingInput(backend)
	if err := usb.PerformVersionHandshake(backend, timeout); err != nil {
		_ = backend.Close()
		return nil, Wrap(KindBadHeader, err)
	}

	d := &Device{
		UUID:    desc.Serial,
		backend: backend,
		mux:     mux.NewTransport(backend),
	}
	log.WithFields(log.Fields{"uuid": d.UUID, "bus": desc.Bus, "address": desc.Address}).
		Debug("idevice: device opened")
	return d, nil
}

// Connect opens a fresh MuxConnection to the given destination port (spec
// §4.6 service-client boundary, §6).
func (d *Device) Connect(destPort uint16, timeout time.Duration) (*mux.Connection, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, Err(KindClosed)
	}
	return d.mux.Connect(destPort, timeout)
}

// ConnectLockdown is a convenience wrapper opening a connection to the
// fixed lockdown control port.
func (d *Device) ConnectLockdown(timeout time.Duration) (*mux.Connection, error) {
	return d.Connect(LockdownPort, timeout)
}

// SetTracer attaches (or, passed nil, detaches) an observer of every
// MuxPacket crossing this device's transport, such as a *trace.Dumper
// (spec §9 Design Note, SPEC_FULL §11).
func (d *Device) SetTracer(tr mux.PacketTracer) {
	d.mux.SetTracer(tr)
}

// Close disconnects the transport (which forcibly resets any live
// MuxConnections), drains residual bulk-in, and releases the backend
// (spec §4.6). Closing an already-closed Device is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.mux.Stop()
	usb.DrainPendingInput(d.backend)
	return d.backend.Close()
}
