package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/metrics"
)

// EmitFunc is invoked for every period due on a tick. It must not block on
// downstream backpressure.
type EmitFunc func(index int, period time.Duration)

// Scheduler drives every period of a Plan from a single timer.
type Scheduler struct {
	plan *Plan
	emit EmitFunc
	log  *logrus.Entry
}

// New creates a Scheduler for plan.
func New(plan *Plan, emit EmitFunc) *Scheduler {
	return &Scheduler{
		plan: plan,
		emit: emit,
		log:  logging.WithComponent("scheduler"),
	}
}

// Run fires the due periods on every tick until ctx is cancelled. Wake-ups
// follow an absolute deadline advanced by exactly one tick per iteration, so
// time spent emitting does not accumulate as drift.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.plan.Tick()
	resync := tick * time.Duration(s.plan.Cycle())
	s.log.WithFields(logrus.Fields{
		"tick":  tick,
		"cycle": s.plan.Cycle(),
	}).Info("scheduler started")
	defer s.log.Info("scheduler stopped")

	timer := time.NewTimer(tick)
	timer.Stop()
	defer timer.Stop()

	deadline := time.Now()
	var n uint64
	for {
		for _, i := range s.plan.Due(n) {
			s.emit(i, s.plan.Period(i))
		}
		n = s.plan.Next(n)
		deadline = deadline.Add(tick)

		now := time.Now()
		if lag := now.Sub(deadline); lag > tick {
			metrics.SchedulerLateTicksTotal.Inc()
			if lag > resync {
				// Too far behind to catch up tick by tick.
				s.log.WithField("lag", lag).Warn("scheduler fell behind, resynchronising")
				deadline = now
			}
		}

		timer.Reset(deadline.Sub(now))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}
