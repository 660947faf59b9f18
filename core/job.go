package core

import "time"

// JobStatus names a reminder job lifecycle stage. Transitions are strictly
// forward: pending → in-flight → (succeeded | failed → pending, if retries
// remain | exhausted). Succeeded and exhausted are absorbing.
type JobStatus string

const (
	// JobPending means the job awaits dispatch at its scheduled time.
	JobPending JobStatus = "pending"
	// JobInFlight means an outbound call for the job is in progress.
	JobInFlight JobStatus = "in-flight"
	// JobSucceeded means the reminder call completed.
	JobSucceeded JobStatus = "succeeded"
	// JobFailed is the transient state recorded for a failed attempt before
	// the job is re-queued or exhausted.
	JobFailed JobStatus = "failed"
	// JobExhausted means all attempts failed; the job is surfaced for human
	// action and never retried.
	JobExhausted JobStatus = "exhausted"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool { return s == JobSucceeded || s == JobExhausted }

// jobTransitions encodes the forward-only status order.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:  {JobInFlight},
	JobInFlight: {JobSucceeded, JobFailed},
	JobFailed:   {JobPending, JobExhausted},
}

// CanTransition reports whether moving from s to next respects the
// forward-only order.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Outcome is the terminal result of one reminder call attempt as reported
// back to the scheduler.
type Outcome string

const (
	// OutcomeCompleted means the call connected and ran to completion.
	OutcomeCompleted Outcome = "completed"
	// OutcomeNoAnswer means the patient never picked up.
	OutcomeNoAnswer Outcome = "no-answer"
	// OutcomeBusy means the line was busy.
	OutcomeBusy Outcome = "busy"
	// OutcomeRejected means the transport or patient rejected the call.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed covers placement and transport failures.
	OutcomeFailed Outcome = "failed"
)

// Success reports whether the outcome counts as a delivered reminder.
func (o Outcome) Success() bool { return o == OutcomeCompleted }

// ReminderJob is one scheduled request to place an outbound reminder call.
// It is mutated only by the scheduler and retained after a terminal status
// for audit.
type ReminderJob struct {
	ID            string    `json:"id"`
	PatientName   string    `json:"patient_name"`
	Contact       string    `json:"contact"`
	AppointmentID string    `json:"appointment_id"`
	Message       string    `json:"message,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	LastCallID    string    `json:"last_call_id,omitempty"`
	Updated       time.Time `json:"updated"`
}

// JobStore persists reminder jobs for the scheduler and the administrative
// surface. Implementations must be safe for concurrent use; the scheduler
// provides the exclusion around status transitions.
type JobStore interface {
	Save(job *ReminderJob) error
	Get(id string) (*ReminderJob, error)
	List(status JobStatus) ([]*ReminderJob, error)
}
