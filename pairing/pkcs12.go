package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// ExportHostBundle bundles a Record's host certificate and private key
// into a password-protected PKCS#12 file, for interop with tools (Keychain
// Access, openssl, third-party MDM utilities) that expect a .p12 rather
// than loose PEM files — the same certificate-bundling need the teacher
// addresses with PKCS12 in ios/mcinstall and ios/codesign.
func ExportHostBundle(record Record, password string) ([]byte, error) {
	key, err := parseRSAPrivateKeyPEM(record.HostPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("pairing: parse host private key: %w", err)
	}
	cert, err := parseCertificatePEM(record.HostCertificate)
	if err != nil {
		return nil, fmt.Errorf("pairing: parse host certificate: %w", err)
	}
	var caCerts []*x509.Certificate
	if root, err := parseCertificatePEM(record.RootCertificate); err == nil {
		caCerts = append(caCerts, root)
	}
	return pkcs12.Encode(rand.Reader, key, cert, caCerts, password)
}

func parseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host private key is not RSA")
	}
	return rsaKey, nil
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}
