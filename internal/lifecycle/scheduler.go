package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// Scheduler runs a job on a fixed interval. A tick that arrives while the
// previous run is still active is skipped.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	clock    clockwork.Clock
	log      logrus.FieldLogger
	running  atomic.Bool
	wg       sync.WaitGroup
}

func NewScheduler(log logrus.FieldLogger, clock clockwork.Clock, name string, interval time.Duration, job Job) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		clock:    clock,
		log:      log.WithField("job", name),
	}
}

func (s *Scheduler) Name() string {
	return s.name
}

// Run ticks until ctx is done, then waits for an active run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("scheduler started")
	for {
		select {
		case <-ticker.Chan():
			s.Trigger(ctx)
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return nil
		}
	}
}

// Trigger starts a run in the background unless one is already active and
// reports whether it started one.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still active, skipping")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		start := s.clock.Now()
		if err := s.job(ctx); err != nil {
			s.log.WithError(err).Error("job failed")
			return
		}
		s.log.WithField("took", s.clock.Since(start)).Debug("job finished")
	}()

	return true
}

// Wait blocks until the active run, if any, has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunAll runs every scheduler until ctx is done.
func RunAll(ctx context.Context, schedulers ...*Scheduler) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range schedulers {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}

	return g.Wait()
}
