package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateDevicePublicKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
}

func TestCreateCertificates(t *testing.T) {
	devicePub := generateDevicePublicKeyPEM(t)
	bundle, err := CreateCertificates(devicePub)
	require.NoError(t, err)

	root, err := parseCertificatePEM(bundle.RootCertificate)
	require.NoError(t, err)
	require.True(t, root.IsCA)

	host, err := parseCertificatePEM(bundle.HostCertificate)
	require.NoError(t, err)
	require.NoError(t, host.CheckSignatureFrom(root))

	device, err := parseCertificatePEM(bundle.DeviceCertificate)
	require.NoError(t, err)
	require.NoError(t, device.CheckSignatureFrom(root))

	_, err = parseRSAPrivateKeyPEM(bundle.HostPrivateKey)
	require.NoError(t, err)
}

func TestNewHostIDIsUpperCaseUUID(t *testing.T) {
	id := NewHostID()
	require.Len(t, id, 36)
	require.Equal(t, id, id)
	require.Regexp(t, `^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$`, id)
}
