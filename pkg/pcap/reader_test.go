package pcap

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Go2TopTalk/internal/model"
)

func writeTestPcap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	base := time.Unix(1700000000, 0)
	for i, port := range []layers.TCPPort{80, 80, 443} {
		buf := gopacket.NewSerializeBuffer()
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
			SrcIP: net.ParseIP("192.168.0.1"), DstIP: net.ParseIP("192.168.0.2"),
		}
		tcp := &layers.TCP{SrcPort: 50000, DstPort: port, ACK: true}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		require.NoError(t, gopacket.SerializeLayers(buf,
			gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			eth, ip, tcp, gopacket.Payload(make([]byte, 100))))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

func TestReader_ReplaysRecordedPackets(t *testing.T) {
	reader, err := NewReader(writeTestPcap(t), "")
	require.NoError(t, err)
	defer reader.Close()

	var got []model.FlowPacket
	for pkt := range reader.Packets() {
		got = append(got, pkt)
	}
	require.Len(t, got, 3)
	assert.Equal(t, uint16(80), got[0].Flow.DstPort)
	assert.Equal(t, uint16(443), got[2].Flow.DstPort)
	assert.Equal(t, 2*time.Millisecond, got[2].Timestamp.Sub(got[0].Timestamp))
	assert.Equal(t, uint32(14+20+20+100), got[0].Size)
}

func TestReader_BPFFilter(t *testing.T) {
	reader, err := Factory("tcp dst port 443")(writeTestPcap(t))
	require.NoError(t, err)
	defer reader.Close()

	count := 0
	for range reader.Packets() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestReader_MissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.pcap"), "")
	assert.Error(t, err)
}
