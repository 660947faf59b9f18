package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/internal/testutil"
	"github.com/hupe1980/voicemesh/store"
	"github.com/hupe1980/voicemesh/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRegistry struct {
	mu    sync.Mutex
	seeds []core.SeedContext
}

func (f *fakeRegistry) GetOrCreate(callID string, direction core.Direction, seed core.SeedContext) *core.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds = append(f.seeds, seed)
	return core.NewCall(callID, direction, seed)
}

func (f *fakeRegistry) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seeds)
}

type env struct {
	scheduler *Scheduler
	jobs      *store.InMemoryJobStore
	transport *transport.InMemoryTransport
	registry  *fakeRegistry
	clock     *fakeClock
}

func newEnv(t *testing.T, optFns ...func(o *Options)) *env {
	t.Helper()
	e := &env{
		jobs:      store.NewInMemoryJobStore(),
		transport: transport.NewInMemoryTransport(),
		registry:  &fakeRegistry{},
		clock:     newFakeClock(),
	}
	fns := append([]func(o *Options){func(o *Options) {
		o.Clock = e.clock.Now
	}}, optFns...)
	s, err := New(e.jobs, e.transport, e.registry, fns...)
	require.NoError(t, err)
	t.Cleanup(func() { s.pool.Release() })
	e.scheduler = s
	return e
}

func (e *env) mustGet(t *testing.T, id string) *core.ReminderJob {
	t.Helper()
	job, err := e.jobs.Get(id)
	require.NoError(t, err)
	return job
}

func TestSchedule_DefaultsAndValidation(t *testing.T) {
	e := newEnv(t)

	job := &core.ReminderJob{PatientName: "Jordan", Contact: "+15550100"}
	require.NoError(t, e.scheduler.Schedule(job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.JobPending, job.Status)
	assert.Equal(t, e.clock.Now(), job.ScheduledAt, "unset due time means due now")

	stored := e.mustGet(t, job.ID)
	assert.Equal(t, core.JobPending, stored.Status)

	err := e.scheduler.Schedule(&core.ReminderJob{PatientName: "NoPhone"})
	assert.Error(t, err, "a job without a contact is rejected")
}

func TestDispatchDue_PlacesCallAndSeedsSession(t *testing.T) {
	e := newEnv(t)
	job := testutil.NewJobBuilder("j1").
		Patient("Jordan").
		Appointment("a1").
		Message("Bring your card.").
		DueAt(e.clock.Now()).
		Build()
	require.NoError(t, e.jobs.Save(job))

	e.scheduler.DispatchDue(context.Background())

	stored := e.mustGet(t, "j1")
	assert.Equal(t, core.JobInFlight, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotEmpty(t, stored.LastCallID)

	require.Equal(t, 1, e.registry.created())
	seed := e.registry.seeds[0]
	assert.Equal(t, "j1", seed.JobID)
	assert.Equal(t, "a1", seed.AppointmentID)
	assert.Equal(t, "Jordan", seed.PatientName)
	assert.Equal(t, "Bring your card.", seed.Message)
}

func TestDispatchDue_SkipsFutureJobs(t *testing.T) {
	e := newEnv(t)
	job := testutil.NewJobBuilder("j1").DueAt(e.clock.Now().Add(time.Hour)).Build()
	require.NoError(t, e.jobs.Save(job))

	e.scheduler.DispatchDue(context.Background())

	assert.Equal(t, core.JobPending, e.mustGet(t, "j1").Status)
	assert.Zero(t, e.registry.created())
}

func TestDispatchDue_RateCeilingAndOrdering(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.RateCeiling = 2 })
	now := e.clock.Now()
	for _, j := range []*core.ReminderJob{
		testutil.NewJobBuilder("j-c").DueAt(now.Add(-time.Minute)).Build(),
		testutil.NewJobBuilder("j-a").DueAt(now.Add(-3 * time.Minute)).Build(),
		testutil.NewJobBuilder("j-b").DueAt(now.Add(-2 * time.Minute)).Build(),
	} {
		require.NoError(t, e.jobs.Save(j))
	}

	e.scheduler.DispatchDue(context.Background())

	// The two earliest-due jobs dispatched; the rest waits for the next cycle.
	assert.Equal(t, core.JobInFlight, e.mustGet(t, "j-a").Status)
	assert.Equal(t, core.JobInFlight, e.mustGet(t, "j-b").Status)
	assert.Equal(t, core.JobPending, e.mustGet(t, "j-c").Status)
}

func TestDispatchDue_TieBreaksByJobID(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.RateCeiling = 1 })
	now := e.clock.Now()
	require.NoError(t, e.jobs.Save(testutil.NewJobBuilder("j-b").DueAt(now).Build()))
	require.NoError(t, e.jobs.Save(testutil.NewJobBuilder("j-a").DueAt(now).Build()))

	e.scheduler.DispatchDue(context.Background())

	assert.Equal(t, core.JobInFlight, e.mustGet(t, "j-a").Status)
	assert.Equal(t, core.JobPending, e.mustGet(t, "j-b").Status)
}

func TestDispatch_PlacementFailureBacksOffWithoutSession(t *testing.T) {
	e := newEnv(t)
	e.transport.FailContact("+15550100", assertableErr("line down"))
	job := testutil.NewJobBuilder("j1").Contact("+15550100").DueAt(e.clock.Now()).Build()
	require.NoError(t, e.jobs.Save(job))

	e.scheduler.DispatchDue(context.Background())

	stored := e.mustGet(t, "j1")
	assert.Equal(t, core.JobPending, stored.Status, "failed attempt re-queues")
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, e.clock.Now().Add(5*time.Minute), stored.ScheduledAt)
	assert.NotEmpty(t, stored.LastError)
	assert.Zero(t, e.registry.created(), "no session for a rejected placement")
}

func TestScheduler_TwoFailuresThenSuccess(t *testing.T) {
	e := newEnv(t)
	job := testutil.NewJobBuilder("j1").DueAt(e.clock.Now()).Build()
	require.NoError(t, e.jobs.Save(job))

	// Attempt 1 places the call; the patient never answers.
	e.scheduler.DispatchDue(context.Background())
	e.scheduler.OnOutcome("j1", core.OutcomeNoAnswer)
	stored := e.mustGet(t, "j1")
	assert.Equal(t, core.JobPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, e.clock.Now().Add(5*time.Minute), stored.ScheduledAt)

	// Attempt 2 after the first backoff; the line is busy.
	e.clock.Advance(5 * time.Minute)
	e.scheduler.DispatchDue(context.Background())
	e.scheduler.OnOutcome("j1", core.OutcomeBusy)
	stored = e.mustGet(t, "j1")
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, e.clock.Now().Add(10*time.Minute), stored.ScheduledAt, "backoff doubles")

	// Attempt 3 succeeds.
	e.clock.Advance(10 * time.Minute)
	e.scheduler.DispatchDue(context.Background())
	e.scheduler.OnOutcome("j1", core.OutcomeCompleted)
	stored = e.mustGet(t, "j1")
	assert.Equal(t, core.JobSucceeded, stored.Status)
	assert.Equal(t, 3, stored.Attempts)

	// A terminal job is never dispatched again.
	e.clock.Advance(24 * time.Hour)
	e.scheduler.DispatchDue(context.Background())
	assert.Equal(t, core.JobSucceeded, e.mustGet(t, "j1").Status)
	assert.Equal(t, 3, e.registry.created())
}

func TestScheduler_ExhaustedAfterMaxAttempts(t *testing.T) {
	e := newEnv(t)
	job := testutil.NewJobBuilder("j1").DueAt(e.clock.Now()).Build()
	require.NoError(t, e.jobs.Save(job))

	for i := 0; i < 3; i++ {
		e.scheduler.DispatchDue(context.Background())
		e.scheduler.OnOutcome("j1", core.OutcomeNoAnswer)
		e.clock.Advance(time.Hour)
	}

	stored := e.mustGet(t, "j1")
	assert.Equal(t, core.JobExhausted, stored.Status)
	assert.Equal(t, 3, stored.Attempts)

	// Exhausted is absorbing.
	e.scheduler.DispatchDue(context.Background())
	assert.Equal(t, core.JobExhausted, e.mustGet(t, "j1").Status)
}

func TestOnOutcome_DroppedWhenNotInFlight(t *testing.T) {
	e := newEnv(t)
	job := testutil.NewJobBuilder("j1").DueAt(e.clock.Now()).Build()
	require.NoError(t, e.jobs.Save(job))

	// Outcome without a dispatch is dropped.
	e.scheduler.OnOutcome("j1", core.OutcomeCompleted)
	assert.Equal(t, core.JobPending, e.mustGet(t, "j1").Status)

	// A duplicate outcome after the first is dropped too.
	e.scheduler.DispatchDue(context.Background())
	e.scheduler.OnOutcome("j1", core.OutcomeCompleted)
	e.scheduler.OnOutcome("j1", core.OutcomeNoAnswer)
	stored := e.mustGet(t, "j1")
	assert.Equal(t, core.JobSucceeded, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestOnOutcome_UnknownJobIsDropped(t *testing.T) {
	e := newEnv(t)
	// Must not panic or create anything.
	e.scheduler.OnOutcome("ghost", core.OutcomeCompleted)
	jobs, err := e.jobs.List("")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, 5*time.Minute, e.scheduler.backoff(1))
	assert.Equal(t, 10*time.Minute, e.scheduler.backoff(2))
	assert.Equal(t, 20*time.Minute, e.scheduler.backoff(3))
	assert.Equal(t, 40*time.Minute, e.scheduler.backoff(4))
	assert.Equal(t, time.Hour, e.scheduler.backoff(5), "capped")
	assert.Equal(t, time.Hour, e.scheduler.backoff(12), "stays capped")
}

func TestDispatchDue_OverlappingCycleIsSkipped(t *testing.T) {
	e := newEnv(t)
	blocked := &blockingTransport{placing: make(chan struct{}), release: make(chan struct{})}
	s, err := New(e.jobs, blocked, e.registry, func(o *Options) {
		o.Clock = e.clock.Now
		o.RateCeiling = 1
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.pool.Release() })

	require.NoError(t, e.jobs.Save(testutil.NewJobBuilder("j1").DueAt(e.clock.Now()).Build()))
	require.NoError(t, e.jobs.Save(testutil.NewJobBuilder("j2").DueAt(e.clock.Now()).Build()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.DispatchDue(context.Background())
	}()
	<-blocked.placing

	// The first cycle is stuck placing j1, so this tick must not start a
	// second one; j2 stays pending instead of being picked up.
	s.DispatchDue(context.Background())
	assert.Equal(t, int32(1), blocked.calls.Load())
	assert.Equal(t, core.JobPending, e.mustGet(t, "j2").Status)

	close(blocked.release)
	<-done
}

type blockingTransport struct {
	once    sync.Once
	placing chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingTransport) PlaceCall(_ context.Context, _ string) (string, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.placing) })
	<-b.release
	return "blocked-call", nil
}

func (b *blockingTransport) Send(_ context.Context, _ string, _ core.Command) error { return nil }

type assertableErr string

func (e assertableErr) Error() string { return string(e) }
