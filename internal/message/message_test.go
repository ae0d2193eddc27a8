package message

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Go2TopTalk/internal/model"
)

func sampleTopFlows() *model.TopFlows {
	return &model.TopFlows{
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FlowCount:    2,
		TotalBytes:   1500,
		TotalPackets: 3,
		Flows: []model.RankedFlow{
			{
				Flow: model.Flow{
					SrcAddr:  netip.MustParseAddr("10.0.0.1"),
					DstAddr:  netip.MustParseAddr("10.0.0.2"),
					SrcPort:  40000,
					DstPort:  443,
					Protocol: model.ProtoTCP,
				},
				Bytes:   1000,
				Packets: 2,
				Rates: []model.IntervalRate{
					{Period: time.Millisecond, BytesPerSecond: 0, PacketsPerSecond: 0},
					{Period: 5 * time.Millisecond, BytesPerSecond: 200000, PacketsPerSecond: 400},
				},
			},
			{
				Flow: model.Flow{
					SrcAddr:  netip.MustParseAddr("fe80::1"),
					DstAddr:  netip.MustParseAddr("fe80::2"),
					Protocol: 200,
				},
				Bytes:   500,
				Packets: 1,
				Rates: []model.IntervalRate{
					{Period: time.Millisecond, BytesPerSecond: 500000, PacketsPerSecond: 1000},
					{Period: 5 * time.Millisecond},
				},
			},
		},
	}
}

func TestFromTopFlows_UsesPeriodRates(t *testing.T) {
	msg := FromTopFlows(sampleTopFlows(), 1, 5*time.Millisecond)

	assert.Equal(t, int64(5*time.Millisecond), msg.IntervalNs)
	assert.Equal(t, uint64(2), msg.TotalFlows)
	assert.Equal(t, uint64(1500), msg.TotalBytes)
	assert.Equal(t, uint64(3), msg.TotalPackets)
	require.Len(t, msg.Flows, 2)

	assert.Equal(t, FlowEntry{
		Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 40000, DstPort: 443,
		Proto: "TCP", Bytes: 200000, Packets: 400,
	}, msg.Flows[0])
	assert.Equal(t, "", msg.Flows[1].Proto)
	assert.Zero(t, msg.Flows[1].Bytes)
}

func TestFromTopFlows_EmptySnapshot(t *testing.T) {
	msg := FromTopFlows(model.EmptyTopFlows(time.Unix(0, 0)), 0, time.Millisecond)
	assert.Empty(t, msg.Flows)
	assert.Zero(t, msg.TotalFlows)
}

func TestEncodeDecode(t *testing.T) {
	msg := FromTopFlows(sampleTopFlows(), 0, time.Millisecond)
	for _, encoding := range []string{EncodingJSON, EncodingProto} {
		t.Run(encoding, func(t *testing.T) {
			data, err := Encode(msg, encoding)
			require.NoError(t, err)
			decoded, err := Decode(data, encoding)
			require.NoError(t, err)
			assert.Equal(t, msg.IntervalNs, decoded.IntervalNs)
			assert.True(t, msg.Timestamp.Equal(decoded.Timestamp))
			assert.Equal(t, msg.Flows, decoded.Flows)
		})
	}
}

func TestEncode_JSONFieldNames(t *testing.T) {
	data, err := Encode(FromTopFlows(sampleTopFlows(), 0, time.Millisecond), EncodingJSON)
	require.NoError(t, err)
	for _, key := range []string{"interval_ns", "tflows", "tbytes", "tpackets", "sport", "dport", "proto"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
}

func TestEncode_UnknownEncoding(t *testing.T) {
	_, err := Encode(&TopTalk{}, "xml")
	assert.True(t, errors.Is(err, ErrUnknownEncoding))
	_, err = Decode(nil, "xml")
	assert.True(t, errors.Is(err, ErrUnknownEncoding))
}
