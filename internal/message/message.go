// Package message defines the per-interval top talker message handed to
// publishers and its wire encodings.
package message

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2TopTalk/internal/model"
)

// Supported wire encodings.
const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// ErrUnknownEncoding is returned for an encoding other than json or proto.
var ErrUnknownEncoding = errors.New("unknown message encoding")

// FlowEntry is one ranked flow. Bytes and Packets are the flow's per-second
// rates in the message's interval.
type FlowEntry struct {
	Src     string `json:"src"`
	Dst     string `json:"dst"`
	SrcPort uint16 `json:"sport"`
	DstPort uint16 `json:"dport"`
	Proto   string `json:"proto"`
	Bytes   uint64 `json:"bytes"`
	Packets uint64 `json:"packets"`
}

// TopTalk is the message emitted once per interval period.
type TopTalk struct {
	Timestamp    time.Time   `json:"timestamp"`
	IntervalNs   int64       `json:"interval_ns"`
	TotalFlows   uint64      `json:"tflows"`
	TotalBytes   uint64      `json:"tbytes"`
	TotalPackets uint64      `json:"tpackets"`
	Flows        []FlowEntry `json:"flows"`
}

// Interval returns the message's period.
func (t *TopTalk) Interval() time.Duration {
	return time.Duration(t.IntervalNs)
}

// FromTopFlows builds the message for the period at index from a snapshot.
// Totals come from the reference window, flow rates from the period's
// complete table.
func FromTopFlows(top *model.TopFlows, index int, period time.Duration) *TopTalk {
	msg := &TopTalk{
		Timestamp:    top.Timestamp,
		IntervalNs:   int64(period),
		TotalFlows:   uint64(top.FlowCount),
		TotalBytes:   top.TotalBytes,
		TotalPackets: top.TotalPackets,
		Flows:        make([]FlowEntry, 0, len(top.Flows)),
	}
	for _, f := range top.Flows {
		entry := FlowEntry{
			Src:     f.Flow.SrcAddr.String(),
			Dst:     f.Flow.DstAddr.String(),
			SrcPort: f.Flow.SrcPort,
			DstPort: f.Flow.DstPort,
			Proto:   model.ProtocolName(f.Flow.Protocol),
		}
		if index >= 0 && index < len(f.Rates) {
			entry.Bytes = f.Rates[index].BytesPerSecond
			entry.Packets = f.Rates[index].PacketsPerSecond
		}
		msg.Flows = append(msg.Flows, entry)
	}
	return msg
}

// ToStruct converts the message to a protobuf Struct.
func (t *TopTalk) ToStruct() (*structpb.Struct, error) {
	flows := make([]any, 0, len(t.Flows))
	for _, f := range t.Flows {
		flows = append(flows, map[string]any{
			"src":     f.Src,
			"dst":     f.Dst,
			"sport":   float64(f.SrcPort),
			"dport":   float64(f.DstPort),
			"proto":   f.Proto,
			"bytes":   float64(f.Bytes),
			"packets": float64(f.Packets),
		})
	}
	s, err := structpb.NewStruct(map[string]any{
		"timestamp":   t.Timestamp.UTC().Format(time.RFC3339Nano),
		"interval_ns": float64(t.IntervalNs),
		"tflows":      float64(t.TotalFlows),
		"tbytes":      float64(t.TotalBytes),
		"tpackets":    float64(t.TotalPackets),
		"flows":       flows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build message struct: %w", err)
	}
	return s, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (*TopTalk, error) {
	fields := s.GetFields()
	msg := &TopTalk{
		IntervalNs:   int64(fields["interval_ns"].GetNumberValue()),
		TotalFlows:   uint64(fields["tflows"].GetNumberValue()),
		TotalBytes:   uint64(fields["tbytes"].GetNumberValue()),
		TotalPackets: uint64(fields["tpackets"].GetNumberValue()),
	}
	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid message timestamp: %w", err)
		}
		msg.Timestamp = parsed
	}
	for _, v := range fields["flows"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		msg.Flows = append(msg.Flows, FlowEntry{
			Src:     f["src"].GetStringValue(),
			Dst:     f["dst"].GetStringValue(),
			SrcPort: uint16(f["sport"].GetNumberValue()),
			DstPort: uint16(f["dport"].GetNumberValue()),
			Proto:   f["proto"].GetStringValue(),
			Bytes:   uint64(f["bytes"].GetNumberValue()),
			Packets: uint64(f["packets"].GetNumberValue()),
		})
	}
	return msg, nil
}

// Encode serializes the message with the given encoding.
func Encode(t *TopTalk, encoding string) ([]byte, error) {
	s, err := t.ToStruct()
	if err != nil {
		return nil, err
	}
	switch encoding {
	case EncodingJSON:
		return protojson.Marshal(s)
	case EncodingProto:
		return proto.Marshal(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

// Decode parses a message produced by Encode.
func Decode(data []byte, encoding string) (*TopTalk, error) {
	s := &structpb.Struct{}
	var err error
	switch encoding {
	case EncodingJSON:
		err = protojson.Unmarshal(data, s)
	case EncodingProto:
		err = proto.Unmarshal(data, s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return FromStruct(s)
}
