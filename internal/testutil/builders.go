package testutil

import (
	"time"

	"github.com/hupe1980/voicemesh/core"
)

// JobBuilder provides a fluent helper for constructing reminder jobs in
// tests. Example:
//
//	job := NewJobBuilder("job-1").Contact("+15550001").DueAt(now).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type JobBuilder struct {
	job core.ReminderJob
}

// NewJobBuilder creates a builder for a pending job with the given id.
func NewJobBuilder(id string) *JobBuilder {
	return &JobBuilder{job: core.ReminderJob{
		ID:          id,
		PatientName: "Alex",
		Contact:     "+15550000000",
		Status:      core.JobPending,
	}}
}

// Patient sets the patient name (chainable).
func (b *JobBuilder) Patient(name string) *JobBuilder { b.job.PatientName = name; return b }

// Contact sets the dial target (chainable).
func (b *JobBuilder) Contact(c string) *JobBuilder { b.job.Contact = c; return b }

// Appointment sets the appointment id the reminder covers (chainable).
func (b *JobBuilder) Appointment(id string) *JobBuilder { b.job.AppointmentID = id; return b }

// Message sets the custom reminder message (chainable).
func (b *JobBuilder) Message(m string) *JobBuilder { b.job.Message = m; return b }

// DueAt sets the scheduled dispatch time (chainable).
func (b *JobBuilder) DueAt(t time.Time) *JobBuilder { b.job.ScheduledAt = t; return b }

// Status overrides the lifecycle status (chainable).
func (b *JobBuilder) Status(s core.JobStatus) *JobBuilder { b.job.Status = s; return b }

// Attempts overrides the attempt count (chainable).
func (b *JobBuilder) Attempts(n int) *JobBuilder { b.job.Attempts = n; return b }

// Build returns a copy of the assembled job.
func (b *JobBuilder) Build() *core.ReminderJob {
	cp := b.job
	return &cp
}

// Appointment constructs an appointment record with the given id and time.
func Appointment(id string, at time.Time) *core.Appointment {
	return &core.Appointment{
		ID:          id,
		PatientName: "Alex",
		Contact:     "+15550000000",
		Time:        at,
	}
}

// PatientSays builds a patient utterance.
func PatientSays(text string) core.Utterance {
	return core.NewUtterance(core.SpeakerPatient, text)
}

// AgentSays builds an agent utterance.
func AgentSays(text string) core.Utterance {
	return core.NewUtterance(core.SpeakerAgent, text)
}
