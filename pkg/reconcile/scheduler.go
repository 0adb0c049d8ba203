package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs reconcile sweeps on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	log        logrus.FieldLogger
	timeout    time.Duration
}

// NewScheduler creates a scheduler from a standard cron spec (with the
// usual @every/@hourly shorthands).
func NewScheduler(reconciler *Reconciler, spec string, log logrus.FieldLogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		log:        log,
		timeout:    10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid reconcile cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling. Sweeps run on the cron goroutine, away from
// the feed dispatch loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	reports, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduled reconcile sweep failed")
		return
	}

	created := 0
	for _, r := range reports {
		created += len(r.Created)
	}
	s.log.WithFields(logrus.Fields{
		"users":   len(reports),
		"created": created,
	}).Info("scheduled reconcile sweep finished")
}
