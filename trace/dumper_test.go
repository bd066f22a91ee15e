package trace

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hexmux/idevice/mux"
	"github.com/stretchr/testify/require"
)

// nopWriteCloser adapts a bytes.Buffer to io.WriteCloser for NewDumper.
type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func TestDumperWritesValidPcap(t *testing.T) {
	var buf bytes.Buffer
	d, err := NewDumper("ignored.pcap", nopWriteCloser{&buf})
	require.NoError(t, err)

	d.Trace(mux.Packet{SrcPort: 0x1234, DstPort: 62078, Flags: mux.FlagSYN, Window: 65535}, true)
	d.Trace(mux.Packet{SrcPort: 62078, DstPort: 0x1234, Flags: mux.FlagSYN | mux.FlagACK, Window: 65535}, false)
	d.Trace(mux.Packet{SrcPort: 0x1234, DstPort: 62078, Flags: mux.FlagACK, Payload: []byte("hello")}, true)
	require.NoError(t, d.Close())

	r, err := pcapgo.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var packets [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		packets = append(packets, data)
	}
	require.Len(t, packets, 3)

	pkt := gopacket.NewPacket(packets[2], layers.LayerTypeEthernet, gopacket.Default)
	tcp, ok := pkt.TransportLayer().(*layers.TCP)
	require.True(t, ok)
	require.EqualValues(t, 0x1234, tcp.SrcPort)
	require.EqualValues(t, 62078, tcp.DstPort)
	require.True(t, tcp.ACK)
	require.Equal(t, []byte("hello"), tcp.Payload)
}

func TestDumperTraceNeverPanicsOnEmptyPacket(t *testing.T) {
	var buf bytes.Buffer
	d, err := NewDumper("ignored.pcap", nopWriteCloser{&buf})
	require.NoError(t, err)
	require.NotPanics(t, func() {
		d.Trace(mux.Packet{}, true)
	})
	require.NoError(t, d.Close())
}
