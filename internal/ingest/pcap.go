package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/linecount/internal/monitoring"
)

// pcapngMagic is the section header block type that opens a pcapng file.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PCAPStats counts what a capture replay saw.
type PCAPStats struct {
	Packets int `json:"packets"` // every packet in the capture
	Frames  int `json:"frames"`  // decoded frames handed to fn
	Skipped int `json:"skipped"` // matching datagrams that did not decode
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// ReplayPCAP decodes frames from UDP payloads sent to udpPort in a pcap or
// pcapng capture. udpPort 0 accepts every UDP packet. Frames without a
// timestamp are stamped with the packet capture time.
func ReplayPCAP(ctx context.Context, r io.Reader, udpPort int, fn FrameFunc) (PCAPStats, error) {
	var stats PCAPStats

	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return stats, fmt.Errorf("failed to read capture header: %w", err)
	}

	var (
		src      packetReader
		linkType layers.LinkType
	)
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return stats, fmt.Errorf("failed to open pcapng capture: %w", err)
		}
		src, linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return stats, fmt.Errorf("failed to open pcap capture: %w", err)
		}
		src, linkType = pr, pr.LinkType()
	}

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP replay stopping due to context cancellation (processed %d packets)", stats.Packets)
			return stats, err
		}

		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, linkType, gopacket.NoCopy)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if udpPort != 0 && int(udp.DstPort) != udpPort {
			continue
		}

		f, err := DecodeFrame(udp.Payload)
		if err != nil {
			stats.Skipped++
			monitoring.Logf("packet %d: %v", stats.Packets, err)
			continue
		}
		if f.TimestampUnixNanos == 0 {
			f.TimestampUnixNanos = ci.Timestamp.UnixNano()
		}
		stats.Frames++
		if err := fn(f); err != nil {
			return stats, fmt.Errorf("packet %d: %w", stats.Packets, err)
		}
	}
}
