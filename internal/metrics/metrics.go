package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PacketsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toptalk_packets_ingested_total",
		Help: "Total number of packets accounted by the flow engine",
	})

	BytesIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toptalk_bytes_ingested_total",
		Help: "Total number of bytes accounted by the flow engine",
	})

	ReferenceFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toptalk_reference_flows",
		Help: "Number of flows currently in the sliding reference window",
	})

	SnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toptalk_snapshots_total",
		Help: "Number of top flow snapshots published to the shared buffer",
	})

	EmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toptalk_emissions_total",
		Help: "Number of messages handed to publishers per interval",
	}, []string{"interval"})

	EmissionsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toptalk_emissions_dropped_total",
		Help: "Number of messages dropped because a publisher could not accept them",
	}, []string{"interval", "publisher"})

	SchedulerLateTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toptalk_scheduler_late_ticks_total",
		Help: "Number of scheduler ticks that woke up after their deadline by more than one tick",
	})

	CaptureRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toptalk_capture_restarts_total",
		Help: "Number of capture restarts",
	})

	ClickHouseRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toptalk_clickhouse_rows_total",
		Help: "Number of rows committed to ClickHouse",
	})
)
