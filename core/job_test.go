package core

import "testing"

func TestJobStatus_ForwardOnlyTransitions(t *testing.T) {
	allowed := []struct {
		from, to JobStatus
	}{
		{JobPending, JobInFlight},
		{JobInFlight, JobSucceeded},
		{JobInFlight, JobFailed},
		{JobFailed, JobPending},
		{JobFailed, JobExhausted},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransition(tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	denied := []struct {
		from, to JobStatus
	}{
		{JobPending, JobSucceeded},
		{JobSucceeded, JobPending},
		{JobSucceeded, JobInFlight},
		{JobExhausted, JobPending},
		{JobInFlight, JobPending},
	}
	for _, tr := range denied {
		if tr.from.CanTransition(tr.to) {
			t.Errorf("%s -> %s should be denied", tr.from, tr.to)
		}
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	if !JobSucceeded.Terminal() || !JobExhausted.Terminal() {
		t.Fatal("succeeded and exhausted are absorbing")
	}
	if JobPending.Terminal() || JobInFlight.Terminal() || JobFailed.Terminal() {
		t.Fatal("pending, in-flight and failed are not terminal")
	}
}

func TestOutcome_Success(t *testing.T) {
	if !OutcomeCompleted.Success() {
		t.Fatal("completed counts as success")
	}
	for _, o := range []Outcome{OutcomeNoAnswer, OutcomeBusy, OutcomeRejected, OutcomeFailed} {
		if o.Success() {
			t.Fatalf("%s should not count as success", o)
		}
	}
}
