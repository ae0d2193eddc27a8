package model

import (
	"fmt"
	"net/netip"
	"time"
)

// MaxFlows is the number of ranked flows carried by a TopFlows snapshot.
const MaxFlows = 5

// Flow is the 5-tuple identifying one direction of traffic.
// It is comparable and is used directly as a map key; no direction folding
// or address normalisation is applied.
type Flow struct {
	SrcAddr  netip.Addr
	DstAddr  netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// String renders the flow as "src:port -> dst:port/proto".
func (f Flow) String() string {
	return fmt.Sprintf("%s -> %s/%s",
		netip.AddrPortFrom(f.SrcAddr, f.SrcPort),
		netip.AddrPortFrom(f.DstAddr, f.DstPort),
		ProtocolName(f.Protocol))
}

// Compare orders flows by their tuple fields. It is only used to make
// rankings deterministic when byte counts tie.
func (f Flow) Compare(o Flow) int {
	if c := f.SrcAddr.Compare(o.SrcAddr); c != 0 {
		return c
	}
	if c := f.DstAddr.Compare(o.DstAddr); c != 0 {
		return c
	}
	switch {
	case f.SrcPort != o.SrcPort:
		return int(f.SrcPort) - int(o.SrcPort)
	case f.DstPort != o.DstPort:
		return int(f.DstPort) - int(o.DstPort)
	default:
		return int(f.Protocol) - int(o.Protocol)
	}
}

// FlowPacket is one observed packet handed over by the capture layer.
// Size is preserved as-is from the capture policy.
type FlowPacket struct {
	Flow      Flow
	Size      uint32
	Timestamp time.Time
}

// FlowRecord is the accounting state of a flow within one table.
type FlowRecord struct {
	Flow    Flow
	Bytes   uint64
	Packets uint64
}

// Add accounts one packet into the record.
func (r *FlowRecord) Add(pkt FlowPacket) {
	r.Bytes += uint64(pkt.Size)
	r.Packets++
}

// IntervalRate is the throughput of a flow measured over the last completed
// epoch of one interval table.
type IntervalRate struct {
	Period           time.Duration
	BytesPerSecond   uint64
	PacketsPerSecond uint64
}

// RankedFlow is one entry of a TopFlows snapshot.
type RankedFlow struct {
	Flow Flow
	// Bytes and Packets are the totals inside the sliding reference window.
	Bytes   uint64
	Packets uint64
	// Rates holds one entry per configured interval, in configuration order.
	Rates []IntervalRate
}

// TopFlows is an immutable point-in-time ranking of the heaviest flows.
type TopFlows struct {
	Timestamp    time.Time
	FlowCount    int
	TotalBytes   uint64
	TotalPackets uint64
	Flows        []RankedFlow
}

// EmptyTopFlows returns a snapshot with no traffic.
func EmptyTopFlows(now time.Time) *TopFlows {
	return &TopFlows{Timestamp: now, Flows: make([]RankedFlow, 0, MaxFlows)}
}
