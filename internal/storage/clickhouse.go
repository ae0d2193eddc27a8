// Package storage holds the ClickHouse connection and schema shared by the
// history writer and the history querier.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff/v4"

	"Go2TopTalk/internal/config"
	"Go2TopTalk/internal/logging"
)

// HistoryTable stores one row per ranked flow of every emitted message.
const HistoryTable = "toptalk_history"

// CreateHistoryTable is the DDL for HistoryTable.
const CreateHistoryTable = `CREATE TABLE IF NOT EXISTS toptalk_history (
    Timestamp        DateTime64(9),
    IntervalNs       Int64,
    Rank             UInt8,
    TotalFlows       UInt64,
    TotalBytes       UInt64,
    TotalPackets     UInt64,
    SrcIP            String,
    DstIP            String,
    SrcPort          UInt16,
    DstPort          UInt16,
    Proto            String,
    BytesPerSecond   UInt64,
    PacketsPerSecond UInt64
) ENGINE = MergeTree()
ORDER BY (IntervalNs, Timestamp)`

const connectTimeout = 10 * time.Second

// OpenClickHouse connects to ClickHouse through database/sql, retrying the
// initial ping with exponential backoff, and makes sure the history table
// exists.
func OpenClickHouse(ctx context.Context, cfg config.ClickHouseConfig) (*sql.DB, error) {
	log := logging.WithComponent("clickhouse")
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: connectTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	ping := func() error {
		err := db.PingContext(ctx)
		if err != nil {
			log.WithError(err).Warn("clickhouse ping failed, retrying")
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping clickhouse at %s: %w", addr, err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.WithField("addr", addr).Info("connected to clickhouse")
	return db, nil
}

// EnsureSchema creates HistoryTable when it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, CreateHistoryTable); err != nil {
		return fmt.Errorf("failed to create %s: %w", HistoryTable, err)
	}
	return nil
}
