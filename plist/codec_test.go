package plist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Request string
	Type    string
}

func TestEncodeDecodeXMLRoundTrip(t *testing.T) {
	in := samplePayload{Request: "QueryType", Type: "com.apple.mobile.lockdown"}
	data, err := Encode(in, XML)
	require.NoError(t, err)
	require.Contains(t, string(data), "<?xml")

	var out samplePayload
	require.NoError(t, Decode(data, &out))
	require.Equal(t, in, out)
}

func TestEncodeDecodeBinaryRoundTrip(t *testing.T) {
	in := samplePayload{Request: "QueryType", Type: "com.apple.mobile.lockdown"}
	data, err := Encode(in, Binary)
	require.NoError(t, err)
	require.True(t, len(data) >= 8 && string(data[:8]) == "bplist00")

	var out samplePayload
	require.NoError(t, Decode(data, &out))
	require.Equal(t, in, out)
}

func TestDecodeDict(t *testing.T) {
	data, err := Encode(map[string]interface{}{"Request": "QueryType", "Count": 3}, XML)
	require.NoError(t, err)

	dict, err := DecodeDict(data)
	require.NoError(t, err)
	require.Equal(t, "QueryType", dict["Request"])
	require.EqualValues(t, 3, dict["Count"])
}

func TestDecodeInvalidPlist(t *testing.T) {
	_, err := DecodeDict([]byte("not a plist"))
	require.Error(t, err)
}
