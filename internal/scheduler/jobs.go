// Package scheduler runs forecast regeneration out of band: one cancellable
// background job at a time, optionally triggered on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retaildss/rebalance-engine/internal/forecast"
	"github.com/retaildss/rebalance-engine/internal/metrics"
)

var (
	// ErrJobRunning is returned by Start while another job is active.
	ErrJobRunning = errors.New("scheduler: a regeneration job is already running")

	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("scheduler: job already finished")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Job is a snapshot of a regeneration job.
type Job struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	Status     Status          `json:"status"`
	Done       int             `json:"done"`
	Total      int             `json:"total"`
	Result     forecast.Result `json:"result"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status != StatusRunning
}

// RegenerateFunc is the work a job performs.
type RegenerateFunc func(ctx context.Context, progress forecast.ProgressFunc) (forecast.Result, error)

// EventFunc observes job progress and completion. It must not block.
type EventFunc func(Job)

type entry struct {
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Jobs tracks regeneration jobs. History is kept for the process lifetime
// and capped at maxHistory entries.
type Jobs struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	current string

	run     RegenerateFunc
	onEvent EventFunc
	logger  *slog.Logger
	base    context.Context
	stop    context.CancelFunc
}

const maxHistory = 50

// NewJobs creates a job runner. onEvent and logger may be nil.
func NewJobs(run RegenerateFunc, onEvent EventFunc, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	if onEvent == nil {
		onEvent = func(Job) {}
	}
	base, stop := context.WithCancel(context.Background())
	return &Jobs{
		jobs:    make(map[string]*entry),
		run:     run,
		onEvent: onEvent,
		logger:  logger,
		base:    base,
		stop:    stop,
	}
}

// Start launches a job unless one is already running.
func (j *Jobs) Start(trigger string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.current != "" {
		return j.jobs[j.current].job, ErrJobRunning
	}

	ctx, cancel := context.WithCancel(j.base)
	e := &entry{
		job: Job{
			ID:        uuid.New().String(),
			Trigger:   trigger,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.jobs[e.job.ID] = e
	j.order = append(j.order, e.job.ID)
	j.current = e.job.ID
	j.trim()

	go j.execute(ctx, e)

	j.logger.Info("forecast regeneration started", "job", e.job.ID, "trigger", trigger)
	return e.job, nil
}

func (j *Jobs) execute(ctx context.Context, e *entry) {
	defer close(e.done)
	defer e.cancel()

	started := time.Now()
	res, err := j.run(ctx, func(done, total int) {
		j.mu.Lock()
		e.job.Done, e.job.Total = done, total
		snap := e.job
		j.mu.Unlock()
		j.onEvent(snap)
	})

	j.mu.Lock()
	now := time.Now().UTC()
	e.job.Result = res
	e.job.FinishedAt = &now
	switch {
	case err == nil:
		e.job.Status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		e.job.Status = StatusCanceled
		e.job.Error = err.Error()
	default:
		e.job.Status = StatusFailed
		e.job.Error = err.Error()
	}
	if j.current == e.job.ID {
		j.current = ""
	}
	snap := e.job
	j.mu.Unlock()

	metrics.ForecastRunsTotal.WithLabelValues(string(snap.Status)).Inc()
	metrics.ForecastRunDuration.Observe(time.Since(started).Seconds())
	metrics.ForecastRowsGenerated.Set(float64(res.GeneratedCount))

	if err != nil {
		j.logger.Error("forecast regeneration ended", "job", snap.ID, "status", snap.Status, "err", err)
	} else {
		j.logger.Info("forecast regeneration finished", "job", snap.ID, "rows", res.GeneratedCount)
	}
	j.onEvent(snap)
}

// Get returns a snapshot of a job.
func (j *Jobs) Get(id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// Cancel requests cancellation of a running job. The job reports
// StatusCanceled once the worker observes it.
func (j *Jobs) Cancel(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.Finished() {
		return ErrJobFinished
	}
	e.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (j *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	j.mu.Lock()
	e, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-e.done:
		return j.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Shutdown cancels the running job, if any, and waits for it to stop.
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.mu.Lock()
	id := j.current
	j.mu.Unlock()

	j.stop()
	if id == "" {
		return nil
	}
	_, err := j.Wait(ctx, id)
	return err
}

// trim drops the oldest finished jobs beyond maxHistory. Caller holds mu.
func (j *Jobs) trim() {
	for len(j.order) > maxHistory {
		oldest := j.order[0]
		if oldest == j.current {
			return
		}
		delete(j.jobs, oldest)
		j.order = j.order[1:]
	}
}
