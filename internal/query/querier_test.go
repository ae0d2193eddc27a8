package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var historyColumns = []string{
	"Timestamp", "IntervalNs", "TotalFlows", "TotalBytes", "TotalPackets",
	"SrcIP", "DstIP", "SrcPort", "DstPort", "Proto", "BytesPerSecond", "PacketsPerSecond",
}

func TestHistory_GroupsRowsIntoMessages(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t1 := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	t0 := t1.Add(-5 * time.Millisecond)
	since := t0.Add(-time.Second)
	interval := int64(5 * time.Millisecond)

	rows := sqlmock.NewRows(historyColumns).
		AddRow(t1, interval, 2, 900, 9, "10.0.0.1", "10.0.0.2", 1000, 80, "TCP", 120000, 200).
		AddRow(t1, interval, 2, 900, 9, "10.0.0.3", "10.0.0.4", 53, 53, "UDP", 60000, 200).
		AddRow(t0, interval, 1, 500, 5, "10.0.0.1", "10.0.0.2", 1000, 80, "TCP", 100000, 200)
	mock.ExpectQuery(`SELECT Timestamp, IntervalNs.*FROM toptalk_history WHERE IntervalNs = \? AND Timestamp >= \? ORDER BY Timestamp DESC, Rank ASC LIMIT \?`).
		WithArgs(interval, since, 10*5).
		WillReturnRows(rows)

	history, err := NewClickHouseQuerier(db).History(context.Background(), HistoryRequest{
		Interval: 5 * time.Millisecond,
		Since:    since,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.True(t, history[0].Timestamp.Equal(t1))
	require.Len(t, history[0].Flows, 2)
	assert.Equal(t, "UDP", history[0].Flows[1].Proto)
	assert.Equal(t, uint64(900), history[0].TotalBytes)
	require.Len(t, history[1].Flows, 1)
	assert.Equal(t, uint64(100000), history[1].Flows[0].Bytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory_TruncatesToLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t1 := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	rows := sqlmock.NewRows(historyColumns).
		AddRow(t1, 1000000, 1, 100, 1, "10.0.0.1", "10.0.0.2", 1, 2, "TCP", 1, 1).
		AddRow(t1.Add(-time.Millisecond), 1000000, 1, 100, 1, "10.0.0.1", "10.0.0.2", 1, 2, "TCP", 1, 1)
	mock.ExpectQuery(`FROM toptalk_history WHERE IntervalNs = \? ORDER BY`).
		WithArgs(int64(time.Millisecond), 5).
		WillReturnRows(rows)

	history, err := NewClickHouseQuerier(db).History(context.Background(), HistoryRequest{
		Interval: time.Millisecond,
		Limit:    1,
	})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistory_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM toptalk_history`).WillReturnError(errors.New("table missing"))
	_, err = NewClickHouseQuerier(db).History(context.Background(), HistoryRequest{Interval: time.Millisecond})
	assert.ErrorContains(t, err, "table missing")
}

func TestTopTalkers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	until := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"SrcIP", "DstIP", "SrcPort", "DstPort", "Proto", "AvgBytes", "MaxBytes", "AvgPackets", "Appearances"}).
		AddRow("10.0.0.1", "10.0.0.2", 1000, 80, "TCP", 150000.5, 300000, 250.0, 42)
	mock.ExpectQuery(`GROUP BY SrcIP, DstIP, SrcPort, DstPort, Proto\s+ORDER BY AvgBytes DESC\s+LIMIT \?`).
		WithArgs(int64(100*time.Millisecond), until, defaultLimit).
		WillReturnRows(rows)

	talkers, err := NewClickHouseQuerier(db).TopTalkers(context.Background(), TalkersRequest{
		Interval: 100 * time.Millisecond,
		Until:    until,
	})
	require.NoError(t, err)
	require.Len(t, talkers, 1)
	assert.Equal(t, Talker{
		Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 1000, DstPort: 80, Proto: "TCP",
		AvgBytesPerSecond: 150000.5, MaxBytesPerSecond: 300000, AvgPacketsPerSecond: 250, Appearances: 42,
	}, talkers[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
