// Package manager coordinates the ingest goroutine that owns the flow
// engine, the scheduler goroutine that emits snapshots, and the snapshot
// buffer shared between them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"Go2TopTalk/internal/engine"
	"Go2TopTalk/internal/engine/scheduler"
	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/metrics"
	"Go2TopTalk/internal/model"
	"Go2TopTalk/internal/publish"
)

// ErrStopped is returned by operations on a stopped Manager.
var ErrStopped = errors.New("manager stopped")

// Options configures a Manager.
type Options struct {
	Periods []time.Duration
	MaxAge  time.Duration
	// Refresh is how often the ingest goroutine recomputes the shared
	// snapshot. Zero means the smallest period.
	Refresh    time.Duration
	OpenSource model.SourceFactory
	Publishers []publish.Publisher
	// PacketClock makes rankings use the timestamp of the newest packet
	// instead of the wall clock. Used when replaying recorded traffic.
	PacketClock bool
}

// run is one ingest or scheduler goroutine.
type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	source  model.PacketSource
	queries chan func(*engine.FlowStatsEngine)
}

// Manager owns the FlowStatsEngine. Only the current ingest goroutine touches
// the engine while capture runs; queries are handed to it over a channel.
type Manager struct {
	engine     *engine.FlowStatsEngine
	plan       *scheduler.Plan
	refresh    time.Duration
	openSource model.SourceFactory
	publishers []publish.Publisher
	labels     []string

	packetClock bool
	lastPacket  time.Time

	snapMu   sync.RWMutex
	snapshot *model.TopFlows

	// restartMu serialises lifecycle changes and queries against them.
	restartMu sync.Mutex
	capture   *run
	sched     *run
	stopped   bool

	log     *logrus.Entry
	dropLog *rate.Limiter
}

// New validates the periods and creates an idle Manager.
func New(opts Options) (*Manager, error) {
	plan, err := scheduler.NewPlan(opts.Periods)
	if err != nil {
		return nil, err
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("reference window must be positive, got %s", opts.MaxAge)
	}
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = plan.Tick()
	}
	labels := make([]string, len(opts.Periods))
	for i, p := range opts.Periods {
		labels[i] = p.String()
	}

	return &Manager{
		engine:      engine.New(opts.Periods, opts.MaxAge),
		plan:        plan,
		refresh:     refresh,
		openSource:  opts.OpenSource,
		publishers:  opts.Publishers,
		labels:      labels,
		packetClock: opts.PacketClock,
		snapshot:    model.EmptyTopFlows(time.Now()),
		log:         logging.WithComponent("manager"),
		dropLog:     rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// RestartCapture stops the running ingest goroutine, if any, resets every
// table and the published snapshot, and starts capturing on iface. When the
// new source cannot be opened, capture stays stopped with empty state.
func (m *Manager) RestartCapture(iface string) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if m.stopped {
		return ErrStopped
	}

	m.stopCaptureLocked()
	m.engine.Reset()
	m.lastPacket = time.Time{}
	m.publishSnapshot(model.EmptyTopFlows(time.Now()))

	src, err := m.openSource(iface)
	if err != nil {
		return fmt.Errorf("failed to open capture on %q: %w", iface, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel:  cancel,
		done:    make(chan struct{}),
		source:  src,
		queries: make(chan func(*engine.FlowStatsEngine)),
	}
	m.capture = r
	go m.ingest(ctx, r)

	metrics.CaptureRestartsTotal.Inc()
	m.log.WithField("interface", iface).Info("capture started")
	return nil
}

func (m *Manager) stopCaptureLocked() {
	r := m.capture
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
	if err := r.source.Close(); err != nil {
		m.log.WithError(err).Warn("failed to close packet source")
	}
	m.capture = nil
}

// CaptureDone returns a channel closed when the current ingest goroutine
// exits, either because it was stopped or because its source ran dry.
func (m *Manager) CaptureDone() <-chan struct{} {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if m.capture == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return m.capture.done
}

// StartScheduler starts the scheduler goroutine, replacing a running one.
func (m *Manager) StartScheduler() error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if m.stopped {
		return ErrStopped
	}

	m.stopSchedulerLocked()
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	m.sched = r
	s := scheduler.New(m.plan, m.Emit)
	go func() {
		defer close(r.done)
		if err := s.Run(ctx); err != nil {
			m.log.WithError(err).Error("scheduler exited")
		}
	}()
	return nil
}

func (m *Manager) stopSchedulerLocked() {
	if m.sched == nil {
		return
	}
	m.sched.cancel()
	<-m.sched.done
	m.sched = nil
}

// Stop cancels and joins the scheduler and ingest goroutines, then closes
// every publisher.
func (m *Manager) Stop() {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()
	if m.stopped {
		return
	}
	m.log.Info("manager stopping")
	m.stopped = true
	m.stopSchedulerLocked()
	m.stopCaptureLocked()
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			m.log.WithError(err).WithField("publisher", p.Name()).Warn("failed to close publisher")
		}
	}
	m.log.Info("manager stopped")
}

func (m *Manager) ingest(ctx context.Context, r *run) {
	defer close(r.done)
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	packets := r.source.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				m.log.Info("packet source exhausted")
				m.publishSnapshot(m.engine.TopN(m.now(), model.MaxFlows))
				return
			}
			m.engine.Record(pkt)
			if pkt.Timestamp.After(m.lastPacket) {
				m.lastPacket = pkt.Timestamp
			}
			metrics.PacketsIngestedTotal.Inc()
			metrics.BytesIngestedTotal.Add(float64(pkt.Size))
		case <-ticker.C:
			m.publishSnapshot(m.engine.TopN(m.now(), model.MaxFlows))
		case q := <-r.queries:
			q(m.engine)
		}
	}
}

func (m *Manager) now() time.Time {
	if m.packetClock && !m.lastPacket.IsZero() {
		return m.lastPacket
	}
	return time.Now()
}

func (m *Manager) publishSnapshot(top *model.TopFlows) {
	m.snapMu.Lock()
	m.snapshot = top
	m.snapMu.Unlock()
	metrics.SnapshotsTotal.Inc()
	metrics.ReferenceFlows.Set(float64(top.FlowCount))
}

// Snapshot returns the most recently published ranking. The returned value
// is shared and must not be modified.
func (m *Manager) Snapshot() *model.TopFlows {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// Emit builds the message for period i from the current snapshot and hands
// it to every publisher. A publisher that rejects it loses that emission.
func (m *Manager) Emit(i int, period time.Duration) {
	msg := message.FromTopFlows(m.Snapshot(), i, period)
	metrics.EmissionsTotal.WithLabelValues(m.labels[i]).Inc()
	for _, p := range m.publishers {
		if err := p.Publish(msg); err != nil {
			metrics.EmissionsDroppedTotal.WithLabelValues(m.labels[i], p.Name()).Inc()
			if m.dropLog.Allow() {
				m.log.WithError(err).WithFields(logrus.Fields{
					"publisher": p.Name(),
					"interval":  m.labels[i],
				}).Warn("dropped emission")
			}
		}
	}
}

// TopN computes a fresh ranking of at most n flows.
func (m *Manager) TopN(ctx context.Context, n int) (*model.TopFlows, error) {
	if n < 0 {
		n = 0
	}
	var top *model.TopFlows
	err := m.query(ctx, func(e *engine.FlowStatsEngine) {
		top = e.TopN(m.now(), n)
	})
	return top, err
}

// FlowCount returns the number of flows in the reference window.
func (m *Manager) FlowCount(ctx context.Context) (int, error) {
	var count int
	err := m.query(ctx, func(e *engine.FlowStatsEngine) {
		count = e.FlowCount()
	})
	return count, err
}

// query runs fn on the goroutine owning the engine, or directly when no
// ingest goroutine is alive.
func (m *Manager) query(ctx context.Context, fn func(*engine.FlowStatsEngine)) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	r := m.capture
	if r == nil {
		fn(m.engine)
		return nil
	}

	done := make(chan struct{})
	q := func(e *engine.FlowStatsEngine) {
		fn(e)
		close(done)
	}
	select {
	case r.queries <- q:
	case <-r.done:
		fn(m.engine)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	// The ingest goroutine runs q synchronously before its next select, so
	// done is always closed.
	<-done
	return nil
}
