package flowtable

import (
	"slices"

	"Go2TopTalk/internal/model"
)

// Table maps a flow to its accounting record. A Table is owned by a single
// goroutine and performs no locking.
type Table struct {
	records map[model.Flow]*model.FlowRecord
}

// New creates an empty table.
func New() *Table {
	return &Table{records: make(map[model.Flow]*model.FlowRecord)}
}

// Add accounts a packet, inserting a record for its flow if absent.
func (t *Table) Add(pkt model.FlowPacket) {
	if rec, ok := t.records[pkt.Flow]; ok {
		rec.Add(pkt)
		return
	}
	rec := &model.FlowRecord{Flow: pkt.Flow}
	rec.Add(pkt)
	t.records[pkt.Flow] = rec
}

// Subtract removes a previously added packet from its flow's record and
// deletes the record once no packet contributes to it anymore. It reports
// false when the flow is not in the table.
func (t *Table) Subtract(pkt model.FlowPacket) bool {
	rec, ok := t.records[pkt.Flow]
	if !ok {
		return false
	}
	rec.Bytes -= uint64(pkt.Size)
	rec.Packets--
	if rec.Packets == 0 {
		delete(t.records, pkt.Flow)
	}
	return true
}

// Get returns a copy of the record for a flow.
func (t *Table) Get(flow model.Flow) (model.FlowRecord, bool) {
	if t == nil {
		return model.FlowRecord{}, false
	}
	rec, ok := t.records[flow]
	if !ok {
		return model.FlowRecord{}, false
	}
	return *rec, true
}

// Len returns the number of flows in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Records returns a copy of every record, in no particular order.
func (t *Table) Records() []model.FlowRecord {
	if t == nil {
		return nil
	}
	out := make([]model.FlowRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	return out
}

// byBytes orders records by bytes descending, then by flow tuple.
func byBytes(a, b model.FlowRecord) int {
	switch {
	case a.Bytes > b.Bytes:
		return -1
	case a.Bytes < b.Bytes:
		return 1
	default:
		return a.Flow.Compare(b.Flow)
	}
}

// SortedByBytes returns a copy of every record ordered by bytes descending.
// Ties are broken by flow tuple order so the result is deterministic.
func (t *Table) SortedByBytes() []model.FlowRecord {
	out := t.Records()
	slices.SortFunc(out, byBytes)
	return out
}

// TopByBytes returns the n heaviest records with a non-zero byte count, in
// SortedByBytes order. Only n records are kept while scanning, so the cost
// stays linear in the table size for small n.
func (t *Table) TopByBytes(n int) []model.FlowRecord {
	if t == nil || n <= 0 {
		return nil
	}
	if n >= len(t.records) {
		out := make([]model.FlowRecord, 0, len(t.records))
		for _, rec := range t.records {
			if rec.Bytes > 0 {
				out = append(out, *rec)
			}
		}
		slices.SortFunc(out, byBytes)
		return out
	}

	top := make([]model.FlowRecord, 0, n+1)
	for _, rec := range t.records {
		if rec.Bytes == 0 {
			continue
		}
		if len(top) == n && byBytes(*rec, top[n-1]) >= 0 {
			continue
		}
		i, _ := slices.BinarySearchFunc(top, *rec, byBytes)
		top = slices.Insert(top, i, *rec)
		if len(top) > n {
			top = top[:n]
		}
	}
	return top
}
