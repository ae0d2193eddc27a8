package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"Go2TopTalk/internal/config"
	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/model"
)

// readTimeout bounds how long a blocked read holds the handle, so Close
// returns promptly on an idle interface.
const readTimeout = 100 * time.Millisecond

// OpenLive starts capturing on iface in immediate mode.
func OpenLive(iface string, cfg config.CaptureConfig) (*Stream, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle for %s: %w", iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(cfg.SnapshotLen)); err != nil {
		return nil, fmt.Errorf("failed to set snap length: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("failed to set immediate mode: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", iface, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid bpf filter %q: %w", cfg.BPFFilter, err)
		}
	}

	logging.WithComponent("capture").WithField("interface", iface).Info("live capture opened")
	src := gopacket.NewPacketSource(handle, handle.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return NewStream(src, cfg.BufferSize, handle.Close), nil
}

// Factory returns a model.SourceFactory opening live captures with cfg.
func Factory(cfg config.CaptureConfig) model.SourceFactory {
	return func(iface string) (model.PacketSource, error) {
		s, err := OpenLive(iface, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
