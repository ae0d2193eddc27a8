// Package api exposes the flow engine and its history over HTTP and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/model"
	"Go2TopTalk/internal/query"
)

// Engine is the part of the capture manager served by the API.
type Engine interface {
	TopN(ctx context.Context, n int) (*model.TopFlows, error)
	FlowCount(ctx context.Context) (int, error)
	Snapshot() *model.TopFlows
	RestartCapture(iface string) error
}

var (
	errUnknownInterval = errors.New("unknown interval")
	errNoHistory       = errors.New("history store is not configured")
)

// Service implements the queries shared by the HTTP and gRPC front ends.
type Service struct {
	engine  Engine
	querier query.Querier
	periods []time.Duration
	log     *logrus.Entry
}

// NewService creates a Service. querier may be nil when no history store is
// configured.
func NewService(engine Engine, querier query.Querier, periods []time.Duration) *Service {
	return &Service{
		engine:  engine,
		querier: querier,
		periods: periods,
		log:     logging.WithComponent("api"),
	}
}

// TopN returns a fresh ranking as a Struct.
func (s *Service) TopN(ctx context.Context, n int) (*structpb.Struct, error) {
	if n <= 0 || n > model.MaxFlows {
		n = model.MaxFlows
	}
	top, err := s.engine.TopN(ctx, n)
	if err != nil {
		return nil, err
	}
	return topFlowsStruct(top, s.periods)
}

// FlowCount returns the number of flows in the reference window.
func (s *Service) FlowCount(ctx context.Context) (int, error) {
	return s.engine.FlowCount(ctx)
}

// Interval returns the message that would be published for interval,
// built from the latest snapshot.
func (s *Service) Interval(name string) (*structpb.Struct, error) {
	i, period, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return message.FromTopFlows(s.engine.Snapshot(), i, period).ToStruct()
}

// RestartCapture switches capture to iface.
func (s *Service) RestartCapture(iface string) error {
	if iface == "" {
		return errors.New("interface name is required")
	}
	s.log.WithField("interface", iface).Info("capture restart requested")
	return s.engine.RestartCapture(iface)
}

// History returns stored messages of one interval.
func (s *Service) History(ctx context.Context, name string, since, until time.Time, limit int) (*structpb.Struct, error) {
	if s.querier == nil {
		return nil, errNoHistory
	}
	_, period, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	history, err := s.querier.History(ctx, query.HistoryRequest{Interval: period, Since: since, Until: until, Limit: limit})
	if err != nil {
		return nil, err
	}
	messages := make([]any, 0, len(history))
	for _, msg := range history {
		st, err := msg.ToStruct()
		if err != nil {
			return nil, err
		}
		messages = append(messages, st.AsMap())
	}
	return structpb.NewStruct(map[string]any{"messages": messages})
}

// TopTalkers returns the heaviest flows of an interval over a time range.
func (s *Service) TopTalkers(ctx context.Context, name string, since, until time.Time, limit int) (*structpb.Struct, error) {
	if s.querier == nil {
		return nil, errNoHistory
	}
	_, period, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	talkers, err := s.querier.TopTalkers(ctx, query.TalkersRequest{Interval: period, Since: since, Until: until, Limit: limit})
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(talkers))
	for _, t := range talkers {
		list = append(list, map[string]any{
			"src":                    t.Src,
			"dst":                    t.Dst,
			"sport":                  float64(t.SrcPort),
			"dport":                  float64(t.DstPort),
			"proto":                  t.Proto,
			"avg_bytes_per_second":   t.AvgBytesPerSecond,
			"max_bytes_per_second":   float64(t.MaxBytesPerSecond),
			"avg_packets_per_second": t.AvgPacketsPerSecond,
			"appearances":            float64(t.Appearances),
		})
	}
	return structpb.NewStruct(map[string]any{"talkers": list})
}

func (s *Service) lookup(name string) (int, time.Duration, error) {
	period, err := time.ParseDuration(name)
	if err != nil {
		return 0, 0, fmt.Errorf("%w %q", errUnknownInterval, name)
	}
	for i, p := range s.periods {
		if p == period {
			return i, p, nil
		}
	}
	return 0, 0, fmt.Errorf("%w %q", errUnknownInterval, name)
}

func topFlowsStruct(top *model.TopFlows, periods []time.Duration) (*structpb.Struct, error) {
	flows := make([]any, 0, len(top.Flows))
	for _, f := range top.Flows {
		rates := map[string]any{}
		for i, r := range f.Rates {
			if i < len(periods) {
				rates[periods[i].String()] = map[string]any{
					"bytes":   float64(r.BytesPerSecond),
					"packets": float64(r.PacketsPerSecond),
				}
			}
		}
		flows = append(flows, map[string]any{
			"src":     f.Flow.SrcAddr.String(),
			"dst":     f.Flow.DstAddr.String(),
			"sport":   float64(f.Flow.SrcPort),
			"dport":   float64(f.Flow.DstPort),
			"proto":   model.ProtocolName(f.Flow.Protocol),
			"bytes":   float64(f.Bytes),
			"packets": float64(f.Packets),
			"rates":   rates,
		})
	}
	return structpb.NewStruct(map[string]any{
		"timestamp": top.Timestamp.UTC().Format(time.RFC3339Nano),
		"tflows":    float64(top.FlowCount),
		"tbytes":    float64(top.TotalBytes),
		"tpackets":  float64(top.TotalPackets),
		"flows":     flows,
	})
}
