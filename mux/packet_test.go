package mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	pkt := Packet{
		SrcPort: 0x1234,
		DstPort: 62078,
		Seq:     10,
		Ack:     20,
		Flags:   FlagACK,
		Window:  0x0200,
		Payload: []byte("hello mux"),
	}
	data, err := Marshal(pkt)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+len(pkt.Payload))

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, pkt.SrcPort, got.SrcPort)
	require.Equal(t, pkt.DstPort, got.DstPort)
	require.Equal(t, pkt.Seq, got.Seq)
	require.Equal(t, pkt.Ack, got.Ack)
	require.Equal(t, pkt.Flags, got.Flags)
	require.Equal(t, pkt.Payload, got.Payload)
}

func TestPacketEmptyPayload(t *testing.T) {
	pkt := Packet{SrcPort: 1, DstPort: 2, Flags: FlagSYN}
	data, err := Marshal(pkt)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Empty(t, got.Payload)
	require.Equal(t, FlagSYN, got.Flags)
}

func TestPeekTotalLength(t *testing.T) {
	pkt := Packet{SrcPort: 1, DstPort: 2, Payload: []byte("0123456789")}
	data, err := Marshal(pkt)
	require.NoError(t, err)

	total, err := PeekTotalLength(data[:HeaderSize])
	require.NoError(t, err)
	require.EqualValues(t, HeaderSize+10, total)
}

func TestUnmarshalRejectsWrongProtocol(t *testing.T) {
	pkt := Packet{SrcPort: 1, DstPort: 2}
	data, err := Marshal(pkt)
	require.NoError(t, err)
	// corrupt the protocol field (first 4 bytes, big-endian)
	data[3] = 7
	_, err = Unmarshal(data)
	require.Error(t, err)
}

func TestUnmarshalRejectsLengthMismatch(t *testing.T) {
	pkt := Packet{SrcPort: 1, DstPort: 2, Payload: []byte("abc")}
	data, err := Marshal(pkt)
	require.NoError(t, err)
	_, err = Unmarshal(data[:len(data)-1])
	require.Error(t, err)
}
