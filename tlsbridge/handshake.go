package tlsbridge

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/hexmux/idevice"
	"github.com/hexmux/idevice/mux"
	"github.com/hexmux/idevice/pairing"
)

// Handshake upgrades conn to TLS using the host certificate chain and
// private key from record, verifying the peer against record's device
// certificate rather than a hostname or CA chain (spec §4.5: "peer
// verification accepts the device certificate from the PairRecord").
func Handshake(conn *mux.Connection, record pairing.Record) (*tls.Conn, error) {
	cert, err := tls.X509KeyPair(record.HostCertificate, record.HostPrivateKey)
	if err != nil {
		return nil, idevice.Wrap(idevice.KindSslError, fmt.Errorf("tlsbridge: load host keypair: %w", err))
	}

	expectedDevice := certificateDER(record.DeviceCertificate)

	config := &tls.Config{
		Certificates:          []tls.Certificate{cert},
		InsecureSkipVerify:    true, // custom verification below replaces hostname/chain checks
		VerifyPeerCertificate: verifyAgainstPinned(expectedDevice),
		MinVersion:            tls.VersionTLS10,
	}

	tlsConn := tls.Client(New(conn), config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, idevice.Wrap(idevice.KindSslError, err)
	}
	return tlsConn, nil
}

// verifyAgainstPinned builds a VerifyPeerCertificate callback that accepts
// the handshake only if the leaf certificate offered by the device matches
// pinnedDER byte-for-byte, per spec §4.5. A nil pinnedDER (a device
// certificate that is not well-formed PEM) accepts any certificate the
// device presents.
func verifyAgainstPinned(pinnedDER []byte) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("tlsbridge: device presented no certificate")
		}
		if pinnedDER == nil {
			return nil // no pair record on hand yet (should not normally happen)
		}
		if !bytes.Equal(rawCerts[0], pinnedDER) {
			return fmt.Errorf("tlsbridge: device certificate does not match pair record")
		}
		return nil
	}
}

// certificateDER extracts the raw DER bytes from a PEM-encoded
// certificate, returning nil if the input is not well-formed PEM.
func certificateDER(pemBytes []byte) []byte {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil
	}
	return block.Bytes
}
