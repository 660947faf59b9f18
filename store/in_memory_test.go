package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/voicemesh/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.JobStore         = (*InMemoryJobStore)(nil)
	_ core.AppointmentStore = (*InMemoryAppointmentStore)(nil)
)

func TestInMemoryJobStore_SaveGetIsolation(t *testing.T) {
	s := NewInMemoryJobStore()
	job := &core.ReminderJob{ID: "j1", PatientName: "Alex", Status: core.JobPending}
	if err := s.Save(job); err != nil {
		t.Fatalf("save: %v", err)
	}
	// mutate the original after save
	job.PatientName = "changed"
	out, err := s.Get("j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.PatientName != "Alex" {
		t.Fatalf("expected stored copy, got %q", out.PatientName)
	}
	// mutate the returned copy
	out.Status = core.JobSucceeded
	out2, _ := s.Get("j1")
	if out2.Status != core.JobPending {
		t.Fatalf("expected isolation, got %s", out2.Status)
	}
}

func TestInMemoryJobStore_GetMissing(t *testing.T) {
	s := NewInMemoryJobStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryJobStore_ListFiltersByStatus(t *testing.T) {
	s := NewInMemoryJobStore()
	for _, j := range []*core.ReminderJob{
		{ID: "j1", Status: core.JobPending},
		{ID: "j2", Status: core.JobSucceeded},
		{ID: "j3", Status: core.JobPending},
	} {
		if err := s.Save(j); err != nil {
			t.Fatal(err)
		}
	}
	pending, err := s.List(core.JobPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	all, _ := s.List("")
	if len(all) != 3 {
		t.Fatalf("expected 3 total, got %d", len(all))
	}
}

func TestInMemoryAppointmentStore_MarkConfirmed(t *testing.T) {
	appt := &core.Appointment{ID: "a1", PatientName: "Alex", Time: time.Now()}
	s := NewInMemoryAppointmentStore(appt)

	if err := s.MarkConfirmed(context.Background(), "a1"); err != nil {
		t.Fatalf("mark confirmed: %v", err)
	}
	got, err := s.Get(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Confirmed {
		t.Fatal("expected appointment to be confirmed")
	}
	// seeding copied the record; original must be untouched
	if appt.Confirmed {
		t.Fatal("seed record should not alias internal state")
	}
	if err := s.MarkConfirmed(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
