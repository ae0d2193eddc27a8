package publish

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/metrics"
)

const (
	queueFlushTimeout = 10 * time.Second
	insertQuery       = `INSERT INTO toptalk_history (
                   Timestamp,
                   IntervalNs,
                   Rank,
                   TotalFlows,
                   TotalBytes,
                   TotalPackets,
                   SrcIP,
                   DstIP,
                   SrcPort,
                   DstPort,
                   Proto,
                   BytesPerSecond,
                   PacketsPerSecond)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// ClickHouseWriter queues messages in memory and commits them to the history
// table in batches every commit interval.
type ClickHouseWriter struct {
	db             *sql.DB
	commitInterval time.Duration
	queueSize      int

	// deque buffers messages waiting to be committed.
	deque      *deque.Deque
	dequeMutex sync.Mutex

	mutex    sync.Mutex
	running  bool
	stopCh   chan struct{}
	exportWg sync.WaitGroup

	log *logrus.Entry
}

// NewClickHouseWriter creates a writer over an open connection. Start must
// be called to begin periodic commits.
func NewClickHouseWriter(db *sql.DB, commitInterval time.Duration, queueSize int) *ClickHouseWriter {
	return &ClickHouseWriter{
		db:             db,
		commitInterval: commitInterval,
		queueSize:      queueSize,
		deque:          deque.New(),
		log:            logging.WithComponent("clickhouse-writer"),
	}
}

func (w *ClickHouseWriter) Name() string {
	return "clickhouse"
}

// Publish queues msg. It returns ErrQueueFull when the queue is at capacity.
func (w *ClickHouseWriter) Publish(msg *message.TopTalk) error {
	w.dequeMutex.Lock()
	defer w.dequeMutex.Unlock()
	if w.deque.Len() >= w.queueSize {
		return ErrQueueFull
	}
	w.deque.PushBack(msg)
	return nil
}

// Pending returns the number of queued messages.
func (w *ClickHouseWriter) Pending() int {
	w.dequeMutex.Lock()
	defer w.dequeMutex.Unlock()
	return w.deque.Len()
}

// Start launches the periodic commit goroutine.
func (w *ClickHouseWriter) Start() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.exportWg.Add(1)
	go func() {
		defer w.exportWg.Done()
		w.periodicCommit()
	}()
}

// Close stops the commit goroutine after a final flush and closes the
// connection.
func (w *ClickHouseWriter) Close() error {
	w.mutex.Lock()
	if w.running {
		w.running = false
		close(w.stopCh)
		w.exportWg.Wait()
	}
	w.mutex.Unlock()
	return w.db.Close()
}

func (w *ClickHouseWriter) periodicCommit() {
	w.log.Info("starting clickhouse export")
	ticker := time.NewTicker(w.commitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			w.log.Info("stopping clickhouse export")
			ctx, cancel := context.WithTimeout(context.Background(), queueFlushTimeout)
			if _, err := w.Flush(ctx); err != nil {
				w.log.WithError(err).Error("failed to flush queue on stop")
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := w.Flush(context.Background()); err != nil {
				w.log.WithError(err).Warn("batch commit failed, will retry")
			}
		}
	}
}

// Flush commits every queued message in one transaction and returns the
// number of rows written. On failure the messages are put back at the front
// of the queue.
func (w *ClickHouseWriter) Flush(ctx context.Context) (int, error) {
	if w.Pending() == 0 {
		return 0, nil
	}

	var stmt *sql.Stmt
	tx, err := w.db.BeginTx(ctx, nil)
	if err == nil {
		stmt, err = tx.PrepareContext(ctx, insertQuery)
		if err != nil {
			_ = tx.Rollback()
		}
	}
	if err != nil {
		return 0, err
	}

	w.dequeMutex.Lock()
	n := w.deque.Len()
	batch := make([]*message.TopTalk, 0, n)
	for i := 0; i < n; i++ {
		if msg, ok := w.deque.PopFront().(*message.TopTalk); ok {
			batch = append(batch, msg)
		}
	}
	w.dequeMutex.Unlock()

	rows := 0
	for _, msg := range batch {
		for rank, f := range msg.Flows {
			_, err := stmt.ExecContext(ctx,
				msg.Timestamp,
				msg.IntervalNs,
				uint8(rank+1),
				msg.TotalFlows,
				msg.TotalBytes,
				msg.TotalPackets,
				f.Src,
				f.Dst,
				f.SrcPort,
				f.DstPort,
				f.Proto,
				f.Bytes,
				f.Packets,
			)
			if err != nil {
				w.requeue(batch)
				_ = tx.Rollback()
				return 0, err
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		w.requeue(batch)
		return 0, err
	}
	metrics.ClickHouseRowsTotal.Add(float64(rows))
	return rows, nil
}

// requeue puts a failed batch back in front of anything queued since,
// keeping the original order and dropping the oldest beyond capacity.
func (w *ClickHouseWriter) requeue(batch []*message.TopTalk) {
	w.dequeMutex.Lock()
	defer w.dequeMutex.Unlock()
	for i := len(batch) - 1; i >= 0; i-- {
		w.deque.PushFront(batch[i])
	}
	for w.deque.Len() > w.queueSize {
		w.deque.PopFront()
	}
}
