package window

import (
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Go2TopTalk/internal/engine/flowtable"
	"Go2TopTalk/internal/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flow(port uint16) model.Flow {
	return model.Flow{
		SrcAddr:  netip.MustParseAddr("172.16.0.1"),
		DstAddr:  netip.MustParseAddr("172.16.0.2"),
		SrcPort:  port,
		DstPort:  5201,
		Protocol: model.ProtoTCP,
	}
}

func TestWindow_ExpiresOldPackets(t *testing.T) {
	w := New(5 * time.Second)

	w.Record(model.FlowPacket{Flow: flow(1), Size: 100, Timestamp: t0})
	w.Record(model.FlowPacket{Flow: flow(2), Size: 10, Timestamp: t0.Add(time.Second)})

	// Exactly maxAge later the first packet is still counted.
	w.Record(model.FlowPacket{Flow: flow(2), Size: 10, Timestamp: t0.Add(5 * time.Second)})
	rec, ok := w.Get(flow(1))
	require.True(t, ok)
	assert.Equal(t, uint64(100), rec.Bytes)

	w.Record(model.FlowPacket{Flow: flow(2), Size: 10, Timestamp: t0.Add(5*time.Second + 1)})
	_, ok = w.Get(flow(1))
	assert.False(t, ok, "flow whose packets all expired is removed")

	flows, bytes, packets := w.Totals()
	assert.Equal(t, 1, flows)
	assert.Equal(t, uint64(30), bytes)
	assert.Equal(t, uint64(3), packets)
}

func TestWindow_NewPacketNeverExpiresItself(t *testing.T) {
	w := New(0)
	w.Record(model.FlowPacket{Flow: flow(1), Size: 1, Timestamp: t0})
	w.Record(model.FlowPacket{Flow: flow(1), Size: 1, Timestamp: t0.Add(time.Hour)})

	rec, ok := w.Get(flow(1))
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.Packets)
	assert.Equal(t, 1, w.expiry.Len())
}

func TestWindow_Conservation(t *testing.T) {
	maxAge := 50 * time.Millisecond
	w := New(maxAge)
	rng := rand.New(rand.NewSource(1))

	var history []model.FlowPacket
	now := t0
	for i := 0; i < 2000; i++ {
		now = now.Add(time.Duration(rng.Intn(200)) * time.Microsecond)
		pkt := model.FlowPacket{
			Flow:      flow(uint16(rng.Intn(20))),
			Size:      uint32(rng.Intn(1500)),
			Timestamp: now,
		}
		history = append(history, pkt)
		w.Record(pkt)

		if i%97 != 0 {
			continue
		}

		expected := flowtable.New()
		for _, p := range history {
			if now.Sub(p.Timestamp) <= maxAge {
				expected.Add(p)
			}
		}
		fromExpiry := flowtable.New()
		for j := 0; j < w.expiry.Len(); j++ {
			fromExpiry.Add(w.expiry.At(j).(model.FlowPacket))
		}

		assert.ElementsMatch(t, expected.Records(), w.table.Records(), "table matches trailing window at packet %d", i)
		assert.ElementsMatch(t, fromExpiry.Records(), w.table.Records(), "table matches expiry list at packet %d", i)

		var sum uint64
		for _, rec := range w.table.Records() {
			sum += rec.Bytes
		}
		_, bytes, _ := w.Totals()
		assert.Equal(t, sum, bytes)
	}
}

func TestWindow_MissingReferenceRecordPanics(t *testing.T) {
	w := New(time.Millisecond)
	w.Record(model.FlowPacket{Flow: flow(1), Size: 1, Timestamp: t0})

	// Break the lockstep between the two structures.
	w.table = flowtable.New()

	assert.Panics(t, func() {
		w.Record(model.FlowPacket{Flow: flow(2), Size: 1, Timestamp: t0.Add(time.Second)})
	})
}

func TestWindow_Sorted(t *testing.T) {
	w := New(time.Minute)
	for i, size := range []uint32{5, 50, 500} {
		w.Record(model.FlowPacket{Flow: flow(uint16(i)), Size: size, Timestamp: t0})
	}
	sorted := w.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, uint64(500), sorted[0].Bytes)
	assert.Equal(t, uint64(5), sorted[2].Bytes)
	assert.Equal(t, time.Minute, w.MaxAge())
}
