package store

import (
	"context"
	"sync"

	"github.com/hupe1980/voicemesh/core"
)

// InMemoryJobStore is a map-backed core.JobStore. Records are copied on save
// and retrieval to avoid accidental external mutation of internal state.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*core.ReminderJob
}

// NewInMemoryJobStore returns an empty in-memory job store.
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[string]*core.ReminderJob)}
}

// Save stores (or overwrites) the job under its id.
func (s *InMemoryJobStore) Save(job *core.ReminderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Get returns a copy of the stored job or ErrNotFound.
func (s *InMemoryJobStore) Get(id string) (*core.ReminderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// List returns copies of all jobs in the given status. An empty status
// matches every job. The slice is a snapshot and safe for caller mutation.
func (s *InMemoryJobStore) List(status core.JobStatus) ([]*core.ReminderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.ReminderJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

// InMemoryAppointmentStore is a map-backed core.AppointmentStore.
type InMemoryAppointmentStore struct {
	mu           sync.RWMutex
	appointments map[string]*core.Appointment
}

// NewInMemoryAppointmentStore returns an appointment store seeded with the
// given records.
func NewInMemoryAppointmentStore(appointments ...*core.Appointment) *InMemoryAppointmentStore {
	s := &InMemoryAppointmentStore{appointments: make(map[string]*core.Appointment)}
	for _, appt := range appointments {
		cp := *appt
		s.appointments[appt.ID] = &cp
	}
	return s
}

// Put stores (or overwrites) the appointment under its id.
func (s *InMemoryAppointmentStore) Put(appt *core.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *appt
	s.appointments[appt.ID] = &cp
}

// Get returns a copy of the stored appointment or ErrNotFound.
func (s *InMemoryAppointmentStore) Get(_ context.Context, id string) (*core.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *appt
	return &cp, nil
}

// MarkConfirmed flips the confirmation flag or returns ErrNotFound.
func (s *InMemoryAppointmentStore) MarkConfirmed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return ErrNotFound
	}
	appt.Confirmed = true
	return nil
}
