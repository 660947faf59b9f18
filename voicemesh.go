// Package voicemesh provides a high-level façade over the call engine:
// the per-call state machines, the session registry, the turn planner and
// the reminder scheduler. Most applications interact with this package by:
//  1. Creating a VoiceMesh via New() with a transport and a language model
//     (optionally overriding the default in-memory stores)
//  2. Calling Start() to begin the reminder dispatch and session reap ticks
//  3. Feeding transport events through HandleTransportEvent and queueing
//     reminders through ScheduleReminder
//
// All defaults are safe for local development and testing; production
// deployments supply durable store implementations, a real telephony
// transport and a structured logger.
package voicemesh

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/voicemesh/call"
	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
	"github.com/hupe1980/voicemesh/planner"
	"github.com/hupe1980/voicemesh/registry"
	"github.com/hupe1980/voicemesh/scheduler"
	"github.com/hupe1980/voicemesh/store"
)

// eventSource is implemented by transports that push events directly, such
// as the in-memory simulator. Real telephony integrations usually feed
// HandleTransportEvent from their own webhook layer instead.
type eventSource interface {
	SetHandler(func(callID string, ev core.TransportEvent))
}

// Options configures the VoiceMesh instance.
type Options struct {
	// JobStore persists reminder jobs (defaults to in-memory).
	JobStore core.JobStore

	// AppointmentStore is the persistence collaborator for appointment
	// lookups and confirmation writes (defaults to an empty in-memory store).
	AppointmentStore core.AppointmentStore

	// Retriever grounds turn planning in clinic knowledge. Nil disables
	// grounding; calls still run.
	Retriever core.Retriever

	// PlannerOptions are applied to the shared turn planner.
	PlannerOptions []func(o *planner.Options)

	// MachineOptions are applied to every per-call state machine.
	MachineOptions []func(o *call.Options)

	// RegistryOptions are applied to the session registry.
	RegistryOptions []func(o *registry.Options)

	// SchedulerOptions are applied to the reminder scheduler.
	SchedulerOptions []func(o *scheduler.Options)

	// ReapInterval is the cron spec for evicting ended sessions.
	ReapInterval string

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// VoiceMesh is the high-level façade aggregating the engine components.
type VoiceMesh struct {
	opts      Options
	transport core.Transport
	planner   *planner.Planner
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	cron      *cron.Cron
	logger    logging.Logger
}

// New creates a VoiceMesh over the given transport and language model. Any
// unset store is initialized with an in-memory implementation. If the
// transport pushes its own events (the in-memory simulator does), it is
// wired to HandleTransportEvent automatically.
func New(transport core.Transport, llm model.Model, optFns ...func(o *Options)) (*VoiceMesh, error) {
	opts := Options{
		JobStore:         store.NewInMemoryJobStore(),
		AppointmentStore: store.NewInMemoryAppointmentStore(),
		ReapInterval:     "@every 1m",
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	vm := &VoiceMesh{
		opts:      opts,
		transport: transport,
		cron:      cron.New(),
		logger:    opts.Logger,
	}

	plannerFns := append([]func(o *planner.Options){func(o *planner.Options) {
		o.Logger = opts.Logger
	}}, opts.PlannerOptions...)
	vm.planner = planner.New(llm, plannerFns...)

	factory := func(c *core.Call) *call.Machine {
		machineFns := append([]func(o *call.Options){func(o *call.Options) {
			o.Logger = opts.Logger
			o.OnOutcome = vm.handleOutcome
		}}, opts.MachineOptions...)
		return call.NewMachine(c, transport, vm.planner, opts.Retriever, opts.AppointmentStore, machineFns...)
	}

	registryFns := append([]func(o *registry.Options){func(o *registry.Options) {
		o.Logger = opts.Logger
	}}, opts.RegistryOptions...)
	vm.registry = registry.New(factory, registryFns...)

	schedulerFns := append([]func(o *scheduler.Options){func(o *scheduler.Options) {
		o.Logger = opts.Logger
	}}, opts.SchedulerOptions...)
	sched, err := scheduler.New(opts.JobStore, transport, vm.registry, schedulerFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	vm.scheduler = sched

	if src, ok := transport.(eventSource); ok {
		src.SetHandler(func(callID string, ev core.TransportEvent) {
			if err := vm.HandleTransportEvent(callID, ev); err != nil {
				vm.logger.Warn("transport event for call %s dropped: %v", callID, err)
			}
		})
	}

	return vm, nil
}

// Start begins the reminder dispatch tick and the ended-session reap tick.
func (vm *VoiceMesh) Start() error {
	if err := vm.scheduler.Start(); err != nil {
		return err
	}
	if _, err := vm.cron.AddFunc(vm.opts.ReapInterval, func() {
		if n := vm.registry.ReapEnded(); n > 0 {
			vm.logger.Debug("reaped %d ended session(s)", n)
		}
	}); err != nil {
		return fmt.Errorf("invalid reap interval %q: %w", vm.opts.ReapInterval, err)
	}
	vm.cron.Start()
	vm.logger.Info("voicemesh started")
	return nil
}

// Stop halts the ticks and shuts down all live sessions. In-flight calls
// get no further events.
func (vm *VoiceMesh) Stop() {
	<-vm.cron.Stop().Done()
	vm.scheduler.Stop()
	vm.registry.Close()
	vm.logger.Info("voicemesh stopped")
}

// HandleTransportEvent routes one telephony event to its call session. A
// connected event for an unknown call creates a fresh inbound session;
// every other event for an unknown call is an error.
func (vm *VoiceMesh) HandleTransportEvent(callID string, ev core.TransportEvent) error {
	if ev.Type == core.EventCallConnected {
		vm.registry.GetOrCreate(callID, core.Inbound, core.SeedContext{})
	}
	return vm.registry.RouteEvent(callID, ev)
}

// ScheduleReminder queues an outbound reminder call.
func (vm *VoiceMesh) ScheduleReminder(job *core.ReminderJob) error {
	return vm.scheduler.Schedule(job)
}

// DispatchDue runs one reminder dispatch cycle immediately, outside the
// periodic tick.
func (vm *VoiceMesh) DispatchDue() {
	vm.scheduler.DispatchDue(context.Background())
}

// Job returns the reminder job with the given id.
func (vm *VoiceMesh) Job(id string) (*core.ReminderJob, error) {
	return vm.opts.JobStore.Get(id)
}

// Jobs returns reminder jobs filtered by status; an empty status matches
// every job.
func (vm *VoiceMesh) Jobs(status core.JobStatus) ([]*core.ReminderJob, error) {
	return vm.opts.JobStore.List(status)
}

// CallStatus returns a point-in-time snapshot of a live or recently ended
// call.
func (vm *VoiceMesh) CallStatus(callID string) (core.Snapshot, error) {
	return vm.registry.Snapshot(callID)
}

// ActiveCalls returns the number of sessions currently held by the
// registry, ended-but-unreaped sessions included.
func (vm *VoiceMesh) ActiveCalls() int {
	return vm.registry.Len()
}

// handleOutcome forwards terminal call outcomes to the scheduler.
func (vm *VoiceMesh) handleOutcome(jobID string, outcome core.Outcome) {
	vm.scheduler.OnOutcome(jobID, outcome)
}
