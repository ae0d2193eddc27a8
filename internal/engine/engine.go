// Package engine implements the flow accounting core: a sliding reference
// window that ranks the heaviest flows and a set of tumbling interval tables
// that give each ranked flow its throughput history.
package engine

import (
	"time"

	"Go2TopTalk/internal/engine/intervals"
	"Go2TopTalk/internal/engine/window"
	"Go2TopTalk/internal/model"
)

// FlowStatsEngine owns every accounting table. It is not safe for concurrent
// use: a single goroutine records packets and computes rankings.
type FlowStatsEngine struct {
	periods   []time.Duration
	maxAge    time.Duration
	reference *window.Window
	intervals *intervals.Set
}

// New creates an engine with one interval table per period and a reference
// window of maxAge.
func New(periods []time.Duration, maxAge time.Duration) *FlowStatsEngine {
	e := &FlowStatsEngine{
		periods: append([]time.Duration(nil), periods...),
		maxAge:  maxAge,
	}
	e.Reset()
	return e
}

// Reset drops every table and starts from empty state.
func (e *FlowStatsEngine) Reset() {
	e.reference = window.New(e.maxAge)
	e.intervals = intervals.New(e.periods)
}

// Periods returns the configured interval periods.
func (e *FlowStatsEngine) Periods() []time.Duration {
	return e.periods
}

// Record accounts a packet into the reference window and every interval
// table. The interval tables are rotated up to the packet's timestamp first,
// so a packet arriving after a boundary is counted in the new epoch.
func (e *FlowStatsEngine) Record(pkt model.FlowPacket) {
	e.reference.Record(pkt)
	e.intervals.Advance(pkt.Timestamp)
	e.intervals.Record(pkt)
}

// FlowCount returns the number of flows in the reference window.
func (e *FlowStatsEngine) FlowCount() int {
	return e.reference.Len()
}

// TopN ranks the reference window by bytes and returns at most n flows with
// a non-zero byte count, each annotated with its rate in every interval
// table. The interval tables are first advanced to now so stale epochs are
// not reported.
func (e *FlowStatsEngine) TopN(now time.Time, n int) *model.TopFlows {
	e.intervals.Advance(now)

	flows, bytes, packets := e.reference.Totals()
	top := &model.TopFlows{
		Timestamp:    now,
		FlowCount:    flows,
		TotalBytes:   bytes,
		TotalPackets: packets,
	}

	ranked := e.reference.Top(n)
	top.Flows = make([]model.RankedFlow, 0, len(ranked))
	for _, rec := range ranked {
		rf := model.RankedFlow{
			Flow:    rec.Flow,
			Bytes:   rec.Bytes,
			Packets: rec.Packets,
			Rates:   make([]model.IntervalRate, e.intervals.Len()),
		}
		for i := range rf.Rates {
			rf.Rates[i] = e.intervals.Rate(i, rec.Flow)
		}
		top.Flows = append(top.Flows, rf)
	}
	return top
}
