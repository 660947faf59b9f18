// Package scheduler queues, dispatches and retries outbound reminder calls.
// Retry state lives entirely on the job (attempt count, next due time), so
// backoff is recomputed as data in OnOutcome rather than slept through in
// process, and the whole retry path is testable without real delays. The
// dispatch tick runs on a cron schedule and never overlaps itself; a cycle
// still in flight causes the next tick to be skipped, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
)

// CallRegistry is the slice of the session registry the scheduler needs:
// creating the outbound session for a successfully placed call.
type CallRegistry interface {
	GetOrCreate(callID string, direction core.Direction, seed core.SeedContext) *core.Call
}

// Options configure a Scheduler.
type Options struct {
	// Interval is the cron spec for the dispatch tick.
	Interval string
	// RateCeiling bounds outbound placements per cycle and sizes the
	// dispatch worker pool; telephony providers enforce call-rate limits.
	RateCeiling int
	// MaxAttempts bounds dispatch attempts before a job is exhausted.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per failed attempt.
	BackoffBase time.Duration
	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration
	// Clock supplies the current time; override in tests.
	Clock func() time.Time
	// Logger receives scheduler diagnostics.
	Logger logging.Logger
}

// Scheduler owns the reminder job queue. Status transitions are serialized
// by an internal mutex so a job can never be double-dispatched.
type Scheduler struct {
	jobs      core.JobStore
	transport core.Transport
	registry  CallRegistry
	pool      *ants.Pool
	cron      *cron.Cron
	opts      Options
	logger    logging.Logger

	mu          sync.Mutex  // guards job status transitions
	dispatching atomic.Bool // single active DispatchDue cycle
}

// New constructs a scheduler over the given job store, transport and
// registry.
func New(jobs core.JobStore, transport core.Transport, registry CallRegistry, optFns ...func(o *Options)) (*Scheduler, error) {
	opts := Options{
		Interval:    "@every 1m",
		RateCeiling: 5,
		MaxAttempts: 3,
		BackoffBase: 5 * time.Minute,
		BackoffCap:  time.Hour,
		Clock:       time.Now,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	pool, err := ants.NewPool(opts.RateCeiling)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch pool: %w", err)
	}

	return &Scheduler{
		jobs:      jobs,
		transport: transport,
		registry:  registry,
		pool:      pool,
		cron:      cron.New(),
		opts:      opts,
		logger:    opts.Logger,
	}, nil
}

// Schedule queues a reminder job. The job starts pending at its scheduled
// dispatch time; a zero ID is assigned.
func (s *Scheduler) Schedule(job *core.ReminderJob) error {
	if job.Contact == "" {
		return fmt.Errorf("reminder job requires a patient contact")
	}
	if job.ID == "" {
		job.ID = core.NewID()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = s.opts.Clock()
	}
	job.Status = core.JobPending
	job.Attempts = 0
	job.Updated = s.opts.Clock()

	if err := s.jobs.Save(job); err != nil {
		return fmt.Errorf("failed to save reminder job: %w", err)
	}
	s.logger.Info("reminder job %s scheduled for %s", job.ID, job.ScheduledAt)
	return nil
}

// Start begins the periodic dispatch tick.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.Interval, func() {
		s.DispatchDue(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid dispatch interval %q: %w", s.opts.Interval, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the tick and releases the dispatch pool. In-flight calls are
// not interrupted; their outcomes still arrive through OnOutcome.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.pool.Release()
}

// DispatchDue selects pending jobs due now, earliest first with ties broken
// by job ID, and dispatches up to the rate ceiling. Jobs beyond the ceiling
// stay pending for the next cycle. A cycle that finds the previous one
// still running returns immediately.
func (s *Scheduler) DispatchDue(ctx context.Context) {
	if !s.dispatching.CompareAndSwap(false, true) {
		s.logger.Debug("dispatch cycle still running, tick skipped")
		return
	}
	defer s.dispatching.Store(false)

	now := s.opts.Clock()
	pending, err := s.jobs.List(core.JobPending)
	if err != nil {
		s.logger.Error("failed to list pending jobs: %v", err)
		return
	}

	due := pending[:0]
	for _, job := range pending {
		if !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > s.opts.RateCeiling {
		due = due[:s.opts.RateCeiling]
	}

	var wg sync.WaitGroup
	for _, job := range due {
		job := job
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			s.dispatch(ctx, job.ID)
		}); err != nil {
			wg.Done()
			s.logger.Error("failed to submit dispatch for job %s: %v", job.ID, err)
		}
	}
	wg.Wait()
}

// dispatch places one outbound call for the job. Placement rejected
// synchronously by the transport is an immediate failed outcome; no session
// is ever created for the attempt.
func (s *Scheduler) dispatch(ctx context.Context, jobID string) {
	job, ok := s.markInFlight(jobID)
	if !ok {
		return
	}

	callID, err := s.transport.PlaceCall(ctx, job.Contact)
	if err != nil {
		outcome := core.OutcomeFailed
		if errors.Is(err, core.ErrDispatchFailure) {
			outcome = core.OutcomeRejected
		}
		s.logger.Warn("placement failed for job %s (attempt %d): %v", job.ID, job.Attempts, err)
		s.onOutcomeWithError(job.ID, outcome, err.Error())
		return
	}

	s.mu.Lock()
	job.LastCallID = callID
	job.Updated = s.opts.Clock()
	if err := s.jobs.Save(job); err != nil {
		s.logger.Error("failed to record call id for job %s: %v", job.ID, err)
	}
	s.mu.Unlock()

	seed := core.SeedContext{
		JobID:         job.ID,
		AppointmentID: job.AppointmentID,
		PatientName:   job.PatientName,
		Message:       job.Message,
	}
	s.registry.GetOrCreate(callID, core.Outbound, seed)
	s.logger.Info("call %s placed for job %s (attempt %d)", callID, job.ID, job.Attempts)
}

// markInFlight transitions pending → in-flight and increments the attempt
// count, refusing jobs another cycle already claimed.
func (s *Scheduler) markInFlight(jobID string) (*core.ReminderJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(jobID)
	if err != nil {
		s.logger.Error("job %s vanished before dispatch: %v", jobID, err)
		return nil, false
	}
	if !job.Status.CanTransition(core.JobInFlight) {
		s.logger.Warn("job %s no longer pending (status %s), dispatch skipped", jobID, job.Status)
		return nil, false
	}
	job.Status = core.JobInFlight
	job.Attempts++
	job.Updated = s.opts.Clock()
	if err := s.jobs.Save(job); err != nil {
		s.logger.Error("failed to mark job %s in-flight: %v", jobID, err)
		return nil, false
	}
	return job, true
}

// OnOutcome applies the terminal result of a reminder call to its job:
// success absorbs as succeeded, failure re-queues with exponential backoff
// until attempts run out, after which the job is exhausted and surfaced for
// human action.
func (s *Scheduler) OnOutcome(jobID string, outcome core.Outcome) {
	s.onOutcomeWithError(jobID, outcome, "")
}

func (s *Scheduler) onOutcomeWithError(jobID string, outcome core.Outcome, placementErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(jobID)
	if err != nil {
		s.logger.Error("outcome %s for unknown job %s dropped: %v", outcome, jobID, err)
		return
	}
	if job.Status != core.JobInFlight {
		s.logger.Warn("outcome %s for job %s in status %s dropped", outcome, jobID, job.Status)
		return
	}

	now := s.opts.Clock()
	job.Updated = now

	if outcome.Success() {
		job.Status = core.JobSucceeded
		job.LastError = ""
		if err := s.jobs.Save(job); err != nil {
			s.logger.Error("failed to record success for job %s: %v", jobID, err)
		}
		s.logger.Info("reminder job %s succeeded after %d attempt(s)", jobID, job.Attempts)
		return
	}

	job.Status = core.JobFailed
	job.LastError = string(outcome)
	if placementErr != "" {
		job.LastError = placementErr
	}

	if job.Attempts >= s.opts.MaxAttempts {
		job.Status = core.JobExhausted
		if err := s.jobs.Save(job); err != nil {
			s.logger.Error("failed to record exhaustion for job %s: %v", jobID, err)
		}
		s.logger.Error("reminder job %s exhausted after %d attempts: %s", jobID, job.Attempts, job.LastError)
		return
	}

	job.Status = core.JobPending
	job.ScheduledAt = now.Add(s.backoff(job.Attempts))
	if err := s.jobs.Save(job); err != nil {
		s.logger.Error("failed to re-queue job %s: %v", jobID, err)
		return
	}
	s.logger.Info("reminder job %s re-queued for %s (attempt %d)", jobID, job.ScheduledAt, job.Attempts)
}

// backoff returns the delay before retry n+1: base doubling per failed
// attempt, capped.
func (s *Scheduler) backoff(attempts int) time.Duration {
	delay := s.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.opts.BackoffCap {
			return s.opts.BackoffCap
		}
	}
	if delay > s.opts.BackoffCap {
		delay = s.opts.BackoffCap
	}
	return delay
}
