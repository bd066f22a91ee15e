package lockdown

import (
	"errors"
	"time"

	"github.com/hexmux/idevice"
	"github.com/hexmux/idevice/pairing"
	log "github.com/sirupsen/logrus"
)

// pairRetryLimit and pairRetryInterval implement the local retry loop
// spec §4.4 requires around a busy device pairing dialog.
const (
	pairRetryLimit    = 20
	pairRetryInterval = time.Second
)

type pairRecordWire struct {
	DeviceCertificate []byte
	HostCertificate   []byte
	RootCertificate   []byte
	HostID            string
	SystemBUID        string
}

type pairOptions struct {
	ExtendedPairingErrors bool
}

type pairRequest struct {
	Label           string
	Request         string
	ProtocolVersion string
	PairRecord      pairRecordWire
	PairingOptions  pairOptions
}

type pairResponse struct {
	Request   string
	Error     string
	EscrowBag []byte
}

// Pair runs the first-time pairing flow (spec §4.4 Pairing): fetch the
// device's public key, mint a fresh host/root/device certificate chain,
// send the Pair request, and retry while the device shows the pairing
// dialog. On success it returns the new pairing.Record; callers are
// responsible for persisting it via a pairing.Store.
func (c *Client) Pair(systemBUID string) (pairing.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	devicePublicKeyRaw, err := c.getValueLocked("", "DevicePublicKey")
	if err != nil {
		return pairing.Record{}, err
	}
	devicePublicKey, ok := devicePublicKeyRaw.([]byte)
	if !ok {
		return pairing.Record{}, idevice.WrapDiagnostic(idevice.KindInvalidPairRecord, "DevicePublicKey was not returned as data")
	}

	bundle, err := pairing.CreateCertificates(devicePublicKey)
	if err != nil {
		return pairing.Record{}, idevice.Wrap(idevice.KindInvalidPairRecord, err)
	}

	hostID := pairing.NewHostID()
	req := pairRequest{
		Label:           "idevice",
		Request:         "Pair",
		ProtocolVersion: "2",
		PairingOptions:  pairOptions{ExtendedPairingErrors: true},
		PairRecord: pairRecordWire{
			DeviceCertificate: bundle.DeviceCertificate,
			HostCertificate:   bundle.HostCertificate,
			RootCertificate:   bundle.RootCertificate,
			HostID:            hostID,
			SystemBUID:        systemBUID,
		},
	}

	var resp pairResponse
	for attempt := 0; attempt < pairRetryLimit; attempt++ {
		if err := c.request(req, &resp); err != nil {
			return pairing.Record{}, err
		}
		lockdownErr := checkError(resp.Error)
		if lockdownErr == nil {
			break
		}
		var coreErr *idevice.Error
		if !errors.As(lockdownErr, &coreErr) || coreErr.Kind != idevice.KindPairingDialogResponsePending {
			return pairing.Record{}, lockdownErr
		}
		log.WithField("attempt", attempt+1).Debug("lockdown: pairing dialog pending, retrying")
		time.Sleep(pairRetryInterval)
		if attempt == pairRetryLimit-1 {
			return pairing.Record{}, lockdownErr
		}
	}

	record := pairing.Record{
		HostID:            hostID,
		SystemBUID:        systemBUID,
		DeviceCertificate: bundle.DeviceCertificate,
		HostCertificate:   bundle.HostCertificate,
		RootCertificate:   bundle.RootCertificate,
		HostPrivateKey:    bundle.HostPrivateKey,
		RootPrivateKey:    bundle.RootPrivateKey,
		DevicePublicKey:   devicePublicKey,
	}
	c.pairRecord = &record
	c.state = StatePaired
	return record, nil
}

// getValueLocked is GetValue without acquiring c.mu, for use by callers
// (like Pair) that already hold it.
func (c *Client) getValueLocked(domain, key string) (interface{}, error) {
	var resp getValueResponse
	req := getValueRequest{Label: "idevice", Request: "GetValue", Domain: domain, Key: key}
	if err := c.request(req, &resp); err != nil {
		return nil, err
	}
	if err := checkError(resp.Error); err != nil {
		return nil, err
	}
	return resp.Value, nil
}
