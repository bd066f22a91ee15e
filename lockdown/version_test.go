package lockdown

import (
	"testing"
	"time"

	"github.com/Masterminds/semver"
	"github.com/hexmux/idevice/mux"
	"github.com/stretchr/testify/require"
)

func TestExpectsSessionSSLByDefault(t *testing.T) {
	require.True(t, ExpectsSessionSSLByDefault(semver.MustParse("16.5")))
	require.True(t, ExpectsSessionSSLByDefault(semver.MustParse("11.0")))
	require.False(t, ExpectsSessionSSLByDefault(semver.MustParse("10.3.3")))
	require.False(t, ExpectsSessionSSLByDefault(nil))
}

func TestProductVersion(t *testing.T) {
	backend := newFakeBackend()
	stop := make(chan struct{})
	defer close(stop)
	go fakeLockdownd(backend, stop, func(req map[string]interface{}) interface{} {
		return map[string]interface{}{"Request": "GetValue", "Key": "ProductVersion", "Value": "16.5"}
	})

	transport := mux.NewTransport(backend)
	defer transport.Close()
	conn, err := transport.Connect(62078, time.Second)
	require.NoError(t, err)

	client := New(conn)
	v, err := client.ProductVersion()
	require.NoError(t, err)
	require.Equal(t, 16, int(v.Major()))
	require.Equal(t, 5, int(v.Minor()))
}
