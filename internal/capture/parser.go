// Package capture turns captured frames into flow packets for the engine.
package capture

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"Go2TopTalk/internal/model"
)

// ErrNotIP is returned for frames that carry neither IPv4 nor IPv6.
var ErrNotIP = errors.New("not an IP packet")

// ParsePacket extracts the flow key, wire length and capture timestamp of a
// decoded frame. Ports are only set for TCP and UDP; every other transport
// is keyed by addresses and protocol number alone.
func ParsePacket(packet gopacket.Packet) (model.FlowPacket, error) {
	var pkt model.FlowPacket

	meta := packet.Metadata()
	pkt.Timestamp = meta.Timestamp
	if pkt.Timestamp.IsZero() {
		pkt.Timestamp = time.Now()
	}
	pkt.Size = uint32(meta.Length)
	if pkt.Size == 0 {
		pkt.Size = uint32(len(packet.Data()))
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		pkt.Flow.SrcAddr = toAddr(ip.SrcIP)
		pkt.Flow.DstAddr = toAddr(ip.DstIP)
		pkt.Flow.Protocol = uint8(ip.Protocol)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		pkt.Flow.SrcAddr = toAddr(ip.SrcIP)
		pkt.Flow.DstAddr = toAddr(ip.DstIP)
		pkt.Flow.Protocol = uint8(ip.NextHeader)
		// Key on the transport after any extension headers.
		switch {
		case packet.Layer(layers.LayerTypeTCP) != nil:
			pkt.Flow.Protocol = model.ProtoTCP
		case packet.Layer(layers.LayerTypeUDP) != nil:
			pkt.Flow.Protocol = model.ProtoUDP
		case packet.Layer(layers.LayerTypeICMPv6) != nil:
			pkt.Flow.Protocol = model.ProtoICMPv6
		}
	} else {
		return pkt, ErrNotIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		pkt.Flow.SrcPort = uint16(tcp.SrcPort)
		pkt.Flow.DstPort = uint16(tcp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		pkt.Flow.SrcPort = uint16(udp.SrcPort)
		pkt.Flow.DstPort = uint16(udp.DstPort)
	}
	return pkt, nil
}

func toAddr(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip)
	return addr.Unmap()
}
