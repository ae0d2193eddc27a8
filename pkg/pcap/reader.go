package pcap

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"Go2TopTalk/internal/capture"
	"Go2TopTalk/internal/model"
)

// DefaultBuffer is the decoded packet channel length of a Reader.
const DefaultBuffer = 1024

// Reader replays a pcap file as a packet source. Packets keep their
// recorded timestamps.
type Reader struct {
	*capture.Stream
}

// NewReader opens filePath and starts decoding it. An optional BPF filter
// restricts the replayed packets.
func NewReader(filePath, bpfFilter string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filePath, err)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid bpf filter %q: %w", bpfFilter, err)
		}
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	return &Reader{
		Stream: capture.NewStream(src, DefaultBuffer, handle.Close),
	}, nil
}

// Factory returns a model.SourceFactory that treats its argument as a file
// path.
func Factory(bpfFilter string) model.SourceFactory {
	return func(filePath string) (model.PacketSource, error) {
		r, err := NewReader(filePath, bpfFilter)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
