package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// keyBits matches the RSA key size lockdownd's pairing protocol expects.
const keyBits = 2048

// NewHostID generates a fresh RFC 4122 v4 UUID, upper-cased the way
// lockdownd's HostID convention expects (spec §4.4 Pairing).
func NewHostID() string {
	return strings.ToUpper(uuid.New().String())
}

// NewSystemBUID generates a host-wide identifier shared across every
// device this host pairs with (GLOSSARY: SystemBUID).
func NewSystemBUID() string {
	return strings.ToUpper(uuid.New().String())
}

// CertificateBundle holds the three PEM-encoded certificates and two
// PEM-encoded private keys produced by CreateCertificates.
type CertificateBundle struct {
	RootCertificate   []byte
	HostCertificate   []byte
	DeviceCertificate []byte
	RootPrivateKey    []byte
	HostPrivateKey    []byte
}

// CreateCertificates builds a self-signed root CA, a host leaf certificate
// signed by that root, and a device leaf certificate wrapping the device's
// own public key and signed by the same root (spec §4.4 Pairing). The
// device's public key arrives from lockdownd as a PEM-encoded PKCS#1
// RSAPublicKey, matching what GetValue(DevicePublicKey) returns.
func CreateCertificates(devicePublicKeyPEM []byte) (CertificateBundle, error) {
	rootKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return CertificateBundle{}, fmt.Errorf("pairing: generate root key: %w", err)
	}

	serial := big.NewInt(1)
	notBefore := time.Now()
	notAfter := notBefore.AddDate(10, 0, 0)

	rootTemplate := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "Root Certification Authority"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, &rootTemplate, &rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return CertificateBundle{}, fmt.Errorf("pairing: create root certificate: %w", err)
	}

	hostTemplate := x509.Certificate{
		SerialNumber:       big.NewInt(2),
		Subject:            pkix.Name{CommonName: "Host Certificate"},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SignatureAlgorithm: x509.SHA256WithRSA,
		KeyUsage:           x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
	}
	hostDER, err := x509.CreateCertificate(rand.Reader, &hostTemplate, &rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return CertificateBundle{}, fmt.Errorf("pairing: create host certificate: %w", err)
	}

	devicePublicKey, err := parseRSAPublicKeyPEM(devicePublicKeyPEM)
	if err != nil {
		return CertificateBundle{}, fmt.Errorf("pairing: parse device public key: %w", err)
	}
	deviceTemplate := x509.Certificate{
		SerialNumber:       big.NewInt(3),
		Subject:            pkix.Name{CommonName: "Device Certificate"},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SignatureAlgorithm: x509.SHA256WithRSA,
		KeyUsage:           x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
	}
	deviceDER, err := x509.CreateCertificate(rand.Reader, &deviceTemplate, &rootTemplate, devicePublicKey, rootKey)
	if err != nil {
		return CertificateBundle{}, fmt.Errorf("pairing: create device certificate: %w", err)
	}

	return CertificateBundle{
		RootCertificate:   pemEncodeCert(rootDER),
		HostCertificate:   pemEncodeCert(hostDER),
		DeviceCertificate: pemEncodeCert(deviceDER),
		RootPrivateKey:    pemEncodeKey(rootKey),
		HostPrivateKey:    pemEncodeKey(rootKey),
	}, nil
}

func parseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("device public key is not RSA")
	}
	return rsaKey, nil
}

func pemEncodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func pemEncodeKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
