package intervals

import (
	"math"
	"math/bits"
	"time"

	"Go2TopTalk/internal/engine/flowtable"
	"Go2TopTalk/internal/model"
)

// epochTable is one tumbling interval: the epoch still accumulating and the
// one most recently closed.
type epochTable struct {
	period     time.Duration
	incomplete *flowtable.Table
	complete   *flowtable.Table
	start      time.Time
	end        time.Time
}

// advance rotates the table across every boundary that lies before now.
func (t *epochTable) advance(now time.Time) {
	if t.end.IsZero() {
		t.start = now
		t.end = now.Add(t.period)
	}
	if !now.After(t.end) {
		return
	}

	// Close the epoch that was accumulating. The previous complete table is
	// dropped wholesale.
	t.complete = t.incomplete
	t.incomplete = flowtable.New()
	t.start = t.end
	t.end = t.end.Add(t.period)
	if !now.After(t.end) {
		return
	}

	// Every further pending boundary closes an epoch that saw no packets, so
	// the outcome of looping over them is an empty complete table aligned on
	// the last boundary before now.
	t.complete = flowtable.New()
	pending := (now.Sub(t.end) + t.period - 1) / t.period
	t.end = t.end.Add(pending * t.period)
	t.start = t.end.Add(-t.period)
}

// Set is the collection of tumbling interval tables, one per configured
// period. It is owned by the ingest goroutine.
type Set struct {
	tables []*epochTable
}

// New creates a Set with one table pair per period, in the given order.
func New(periods []time.Duration) *Set {
	s := &Set{tables: make([]*epochTable, len(periods))}
	for i, p := range periods {
		s.tables[i] = &epochTable{
			period:     p,
			incomplete: flowtable.New(),
			complete:   flowtable.New(),
		}
	}
	return s
}

// Len returns the number of interval tables.
func (s *Set) Len() int {
	return len(s.tables)
}

// Period returns the period of table i.
func (s *Set) Period(i int) time.Duration {
	return s.tables[i].period
}

// Record accounts a packet into the accumulating epoch of every table.
func (s *Set) Record(pkt model.FlowPacket) {
	for _, t := range s.tables {
		t.incomplete.Add(pkt)
	}
}

// Advance brings every table's epoch up to now, rotating as many times as
// there are elapsed boundaries. Calling it repeatedly with the same now is a
// no-op after the first call.
func (s *Set) Advance(now time.Time) {
	for _, t := range s.tables {
		t.advance(now)
	}
}

// Epoch returns the bounds of the epoch table i is accumulating.
func (s *Set) Epoch(i int) (start, end time.Time) {
	return s.tables[i].start, s.tables[i].end
}

// Complete returns a copy of the records of the last closed epoch of table i.
func (s *Set) Complete(i int) []model.FlowRecord {
	return s.tables[i].complete.Records()
}

// Incomplete returns a copy of the records of the epoch table i is
// accumulating.
func (s *Set) Incomplete(i int) []model.FlowRecord {
	return s.tables[i].incomplete.Records()
}

// Rate returns the throughput of flow over the last closed epoch of table i.
// A flow absent from that epoch has a zero rate.
func (s *Set) Rate(i int, flow model.Flow) model.IntervalRate {
	t := s.tables[i]
	rate := model.IntervalRate{Period: t.period}
	rec, ok := t.complete.Get(flow)
	if !ok {
		return rate
	}
	rate.BytesPerSecond = PerSecond(rec.Bytes, t.period)
	rate.PacketsPerSecond = PerSecond(rec.Packets, t.period)
	return rate
}

// PerSecond converts a count accumulated over period into a per-second rate,
// rounded down. The result saturates instead of overflowing.
func PerSecond(count uint64, period time.Duration) uint64 {
	if period <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(count, uint64(time.Second))
	if hi >= uint64(period) {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, uint64(period))
	return q
}
