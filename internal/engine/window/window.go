package window

import (
	"fmt"
	"time"

	"github.com/gammazero/deque"

	"Go2TopTalk/internal/engine/flowtable"
	"Go2TopTalk/internal/model"
)

// Window is the sliding reference table: per-flow byte and packet counts of
// every packet seen during the trailing maxAge. It is owned by the ingest
// goroutine.
type Window struct {
	maxAge time.Duration
	table  *flowtable.Table
	// expiry holds every counted packet, oldest first. It is appended at the
	// back and trimmed at the front only, and always sums to the same per-flow
	// totals as table.
	expiry *deque.Deque

	totalBytes   uint64
	totalPackets uint64
}

// New creates an empty window keeping packets for at most maxAge.
func New(maxAge time.Duration) *Window {
	return &Window{
		maxAge: maxAge,
		table:  flowtable.New(),
		expiry: deque.New(),
	}
}

// MaxAge returns the trailing duration covered by the window.
func (w *Window) MaxAge() time.Duration {
	return w.maxAge
}

// Record adds a packet to the window after expiring every packet older than
// maxAge relative to it. The packet itself is never expired by its own call.
func (w *Window) Record(pkt model.FlowPacket) {
	w.expiry.PushBack(pkt)

	for w.expiry.Len() > 0 {
		head := w.expiry.Front().(model.FlowPacket)
		if pkt.Timestamp.Sub(head.Timestamp) <= w.maxAge {
			break
		}
		w.expiry.PopFront()
		if !w.table.Subtract(head) {
			panic(fmt.Sprintf("window: expired packet of flow %s has no reference record", head.Flow))
		}
		w.totalBytes -= uint64(head.Size)
		w.totalPackets--
	}

	w.table.Add(pkt)
	w.totalBytes += uint64(pkt.Size)
	w.totalPackets++
}

// Len returns the number of flows in the window.
func (w *Window) Len() int {
	return w.table.Len()
}

// Totals returns the number of flows, bytes and packets in the window.
func (w *Window) Totals() (flows int, bytes, packets uint64) {
	return w.table.Len(), w.totalBytes, w.totalPackets
}

// Get returns the window record of a flow.
func (w *Window) Get(flow model.Flow) (model.FlowRecord, bool) {
	return w.table.Get(flow)
}

// Sorted returns the window records ordered by bytes descending.
func (w *Window) Sorted() []model.FlowRecord {
	return w.table.SortedByBytes()
}

// Top returns the n heaviest flows of the window. Flows whose remaining
// packets carry no bytes are not ranked.
func (w *Window) Top(n int) []model.FlowRecord {
	return w.table.TopByBytes(n)
}
