package scheduler

import (
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job triggers.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Scheduler starts regeneration jobs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	spec   string
	logger *slog.Logger
}

// NewScheduler creates a scheduler for the given standard 5-field cron spec.
// An empty spec yields a scheduler that never fires.
func NewScheduler(spec string, jobs *Jobs, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   jobs,
		spec:   spec,
		logger: logger,
	}
}

// Start registers the schedule and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.logger.Info("forecast schedule disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, s.regenerate); err != nil {
		return err
	}
	s.logger.Info("starting forecast scheduler", "schedule", s.spec)
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. A job already started keeps running; use
// Jobs.Shutdown to cancel it.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping forecast scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) regenerate() {
	job, err := s.jobs.Start(TriggerCron)
	if errors.Is(err, ErrJobRunning) {
		s.logger.Warn("scheduled regeneration skipped, job in progress", "running", job.ID)
		return
	}
	if err != nil {
		s.logger.Error("scheduled regeneration failed to start", "err", err)
	}
}

// ValidateSpec reports whether spec parses as a standard cron expression.
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := cron.ParseStandard(spec)
	return err
}
