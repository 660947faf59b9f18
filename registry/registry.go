// Package registry owns the process-wide table of in-flight calls. It
// guarantees at most one live call per transport identifier, serializes
// event delivery per call while letting distinct calls proceed fully in
// parallel, and reaps ended calls after a grace window so memory stays
// bounded. Serialization uses an actor-per-call mailbox: one buffered
// channel drained by one goroutine per live call.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/call"
	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
)

// MachineFactory builds the state machine for a newly registered call.
type MachineFactory func(c *core.Call) *call.Machine

// Options configure a Registry.
type Options struct {
	// MailboxSize buffers pending events per call.
	MailboxSize int
	// GraceWindow is how long an Ended call stays resident to absorb late
	// transport callbacks before ReapEnded evicts it.
	GraceWindow time.Duration
	// Logger receives registry diagnostics.
	Logger logging.Logger
}

type entry struct {
	machine *call.Machine
	events  chan core.TransportEvent
	done    chan struct{}
}

// Registry is safe for concurrent use by transport callbacks and the
// scheduler.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	factory MachineFactory
	opts    Options
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an empty registry. The factory is invoked once per new call
// identifier.
func New(factory MachineFactory, optFns ...func(o *Options)) *Registry {
	opts := Options{
		MailboxSize: 16,
		GraceWindow: 2 * time.Minute,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// GetOrCreate returns the live call for the identifier, creating it when
// absent. A second creation request for the same identifier returns the
// existing call unchanged.
func (r *Registry) GetOrCreate(callID string, direction core.Direction, seed core.SeedContext) *core.Call {
	r.mu.RLock()
	if e, ok := r.entries[callID]; ok {
		r.mu.RUnlock()
		return e.machine.Call()
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[callID]; ok {
		return e.machine.Call()
	}

	c := core.NewCall(callID, direction, seed)
	e := &entry{
		machine: r.factory(c),
		events:  make(chan core.TransportEvent, r.opts.MailboxSize),
		done:    make(chan struct{}),
	}
	r.entries[callID] = e

	go r.drain(e)

	r.logger.Info("call %s registered (%s)", callID, direction)
	return c
}

// drain applies mailbox events strictly in arrival order.
func (r *Registry) drain(e *entry) {
	defer close(e.done)
	for ev := range e.events {
		e.machine.HandleEvent(r.ctx, ev)
	}
}

// RouteEvent delivers a transport event to the owning call. Unknown
// identifiers yield core.ErrUnknownCall; the condition is logged here and
// callers drop the event, never fail. A disconnect cancels any in-flight
// generation immediately, before it is queued, so no stale turn survives a
// hangup that arrives behind a busy mailbox.
func (r *Registry) RouteEvent(callID string, ev core.TransportEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[callID]
	if !ok {
		r.logger.Warn("event %s for unknown call %s dropped", ev.Type, callID)
		return core.ErrUnknownCall
	}

	if ev.Type == core.EventCallDisconnected {
		e.machine.CancelInflight()
	}

	e.events <- ev
	return nil
}

// Snapshot returns a point-in-time view of the call for the administrative
// surface.
func (r *Registry) Snapshot(callID string) (core.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[callID]
	if !ok {
		return core.Snapshot{}, core.ErrUnknownCall
	}
	return e.machine.Call().Snapshot(), nil
}

// Len returns the number of resident calls, live and recently ended.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ReapEnded evicts calls that have been Ended for longer than the grace
// window and returns how many were removed.
func (r *Registry) ReapEnded() int {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, e := range r.entries {
		if e.machine.Call().EndedSince(now) > r.opts.GraceWindow {
			delete(r.entries, id)
			close(e.events)
			reaped++
			r.logger.Debug("call %s reaped", id)
		}
	}
	return reaped
}

// Close cancels all mailbox processing and releases every entry. Intended
// for shutdown; events routed afterwards report ErrUnknownCall.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		delete(r.entries, id)
		close(e.events)
	}
}
