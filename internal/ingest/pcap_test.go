package ingest

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/linecount/internal/pipeline"
)

type capturedPacket struct {
	dstPort uint16
	payload string
	ts      time.Time
}

func udpPacket(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, 10),
		DstIP:    net.IPv4(192, 168, 1, 20),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, packets []capturedPacket) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, p := range packets {
		data := udpPacket(t, p.dstPort, []byte(p.payload))
		ci := gopacket.CaptureInfo{Timestamp: p.ts, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return &out
}

func TestReplayPCAP(t *testing.T) {
	t.Parallel()
	base := time.Unix(1_700_000_000, 0)
	capture := writeCapture(t, []capturedPacket{
		{5600, `{"stream":"cam-1","frame":0,"detections":[]}`, base},
		{9999, `{"stream":"cam-1","frame":99,"detections":[]}`, base.Add(time.Millisecond)},
		{5600, `nope`, base.Add(2 * time.Millisecond)},
		{5600, `{"stream":"cam-1","frame":1,"ts_unix_nanos":42,"detections":[]}`, base.Add(3 * time.Millisecond)},
	})

	var got []pipeline.Frame
	stats, err := ReplayPCAP(context.Background(), capture, 5600, func(f pipeline.Frame) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, PCAPStats{Packets: 4, Frames: 2, Skipped: 1}, stats)

	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].Index)
	assert.Equal(t, base.UnixNano(), got[0].TimestampUnixNanos, "capture time fills a missing timestamp")
	assert.Equal(t, uint64(1), got[1].Index)
	assert.Equal(t, int64(42), got[1].TimestampUnixNanos)
}

func TestReplayPCAP_AnyPort(t *testing.T) {
	t.Parallel()
	capture := writeCapture(t, []capturedPacket{
		{5600, `{"frame":0}`, time.Unix(1, 0)},
		{9999, `{"frame":1}`, time.Unix(2, 0)},
	})
	stats, err := ReplayPCAP(context.Background(), capture, 0, func(pipeline.Frame) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Frames)
}

func TestReplayPCAP_NotACapture(t *testing.T) {
	t.Parallel()
	_, err := ReplayPCAP(context.Background(), bytes.NewReader([]byte("hello world")), 5600, func(pipeline.Frame) error { return nil })
	assert.Error(t, err)
}
