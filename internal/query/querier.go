// Package query reads the emitted message history back from ClickHouse.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/model"
)

// HistoryRequest selects emitted messages of one interval.
type HistoryRequest struct {
	Interval time.Duration
	Since    time.Time
	Until    time.Time
	// Limit caps the number of messages returned, newest first.
	Limit int
}

// TalkersRequest selects the flows with the highest average rate in one
// interval over a time range.
type TalkersRequest struct {
	Interval time.Duration
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Talker is one flow aggregated over a time range.
type Talker struct {
	Src                 string  `json:"src"`
	Dst                 string  `json:"dst"`
	SrcPort             uint16  `json:"sport"`
	DstPort             uint16  `json:"dport"`
	Proto               string  `json:"proto"`
	AvgBytesPerSecond   float64 `json:"avg_bytes_per_second"`
	MaxBytesPerSecond   uint64  `json:"max_bytes_per_second"`
	AvgPacketsPerSecond float64 `json:"avg_packets_per_second"`
	Appearances         uint64  `json:"appearances"`
}

// Querier defines the interface for querying message history.
type Querier interface {
	History(ctx context.Context, req HistoryRequest) ([]*message.TopTalk, error)
	TopTalkers(ctx context.Context, req TalkersRequest) ([]Talker, error)
}

const defaultLimit = 100

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	db *sql.DB
}

// NewClickHouseQuerier creates a querier over an open connection.
func NewClickHouseQuerier(db *sql.DB) Querier {
	return &clickhouseQuerier{db: db}
}

func timeRange(interval time.Duration, since, until time.Time) (string, []any) {
	whereClauses := []string{"IntervalNs = ?"}
	args := []any{int64(interval)}
	if !since.IsZero() {
		whereClauses = append(whereClauses, "Timestamp >= ?")
		args = append(args, since)
	}
	if !until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, until)
	}
	return " WHERE " + strings.Join(whereClauses, " AND "), args
}

func limitOf(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

// History returns the most recent messages of the requested interval, each
// rebuilt from its ranked rows.
func (q *clickhouseQuerier) History(ctx context.Context, req HistoryRequest) ([]*message.TopTalk, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT Timestamp, IntervalNs, TotalFlows, TotalBytes, TotalPackets,
			SrcIP, DstIP, SrcPort, DstPort, Proto, BytesPerSecond, PacketsPerSecond
		FROM toptalk_history`)
	where, args := timeRange(req.Interval, req.Since, req.Until)
	queryBuilder.WriteString(where)
	queryBuilder.WriteString(" ORDER BY Timestamp DESC, Rank ASC LIMIT ?")
	args = append(args, limitOf(req.Limit)*model.MaxFlows)

	rows, err := q.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute history query: %w", err)
	}
	defer rows.Close()

	var (
		history []*message.TopTalk
		current *message.TopTalk
	)
	for rows.Next() {
		var (
			ts   time.Time
			msg  message.TopTalk
			flow message.FlowEntry
		)
		if err := rows.Scan(&ts, &msg.IntervalNs, &msg.TotalFlows, &msg.TotalBytes, &msg.TotalPackets,
			&flow.Src, &flow.Dst, &flow.SrcPort, &flow.DstPort, &flow.Proto, &flow.Bytes, &flow.Packets); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if current == nil || !current.Timestamp.Equal(ts) {
			if len(history) == limitOf(req.Limit) {
				break
			}
			msg.Timestamp = ts
			current = &msg
			history = append(history, current)
		}
		current.Flows = append(current.Flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}
	return history, nil
}

// TopTalkers aggregates the history into the heaviest flows of a range.
func (q *clickhouseQuerier) TopTalkers(ctx context.Context, req TalkersRequest) ([]Talker, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT SrcIP, DstIP, SrcPort, DstPort, Proto,
			avg(BytesPerSecond) AS AvgBytes,
			max(BytesPerSecond) AS MaxBytes,
			avg(PacketsPerSecond) AS AvgPackets,
			count() AS Appearances
		FROM toptalk_history`)
	where, args := timeRange(req.Interval, req.Since, req.Until)
	queryBuilder.WriteString(where)
	queryBuilder.WriteString(`
		GROUP BY SrcIP, DstIP, SrcPort, DstPort, Proto
		ORDER BY AvgBytes DESC
		LIMIT ?`)
	args = append(args, limitOf(req.Limit))

	rows, err := q.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute talkers query: %w", err)
	}
	defer rows.Close()

	var talkers []Talker
	for rows.Next() {
		var t Talker
		if err := rows.Scan(&t.Src, &t.Dst, &t.SrcPort, &t.DstPort, &t.Proto,
			&t.AvgBytesPerSecond, &t.MaxBytesPerSecond, &t.AvgPacketsPerSecond, &t.Appearances); err != nil {
			return nil, fmt.Errorf("failed to scan talker row: %w", err)
		}
		talkers = append(talkers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read talker rows: %w", err)
	}
	return talkers, nil
}
