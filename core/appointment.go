package core

import (
	"context"
	"time"
)

// Appointment is the patient/appointment record read from the persistence
// collaborator. The engine treats it as eventually consistent.
type Appointment struct {
	ID          string    `json:"id"`
	PatientName string    `json:"patient_name"`
	Contact     string    `json:"contact"`
	Time        time.Time `json:"time"`
	Confirmed   bool      `json:"confirmed"`
	Notes       string    `json:"notes,omitempty"`
}

// AppointmentStore is the persistence collaborator boundary. A failed
// confirmation write does not abort an in-progress call; it is logged and
// retried out of band.
type AppointmentStore interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	MarkConfirmed(ctx context.Context, id string) error
}
