// Package call implements the per-call state machine. A Machine owns one
// call's lifecycle: it consumes transport events, drives the turn planner
// (with best-effort knowledge retrieval) and emits transport commands. Event
// delivery is serialized per call by the registry; the machine itself only
// needs internal locking for the out-of-band cancellation path.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/planner"
)

// silenceText is recorded as the patient turn when a gather window elapses
// without speech.
const silenceText = "no response"

// OutcomeFunc receives the terminal result of an outbound reminder call.
type OutcomeFunc func(jobID string, outcome core.Outcome)

// Options configure a Machine.
type Options struct {
	// Greeting opens inbound calls.
	Greeting string
	// SilenceGoodbye is spoken before hanging up after too many silent turns.
	SilenceGoodbye string
	// TransferTarget is the dial target for transfer-to-human.
	TransferTarget string
	// GroundingTopK bounds retrieval per turn.
	GroundingTopK int
	// MaxSilenceTurns bounds consecutive silent turns before a forced end.
	MaxSilenceTurns int
	// OnOutcome is invoked once with the terminal result of an outbound call.
	OnOutcome OutcomeFunc
	// Logger receives machine diagnostics.
	Logger logging.Logger
}

// Machine drives one call through Initiating → Greeting → Listening →
// Thinking → Speaking → (Listening | Transferring | Ending) → Ended.
type Machine struct {
	call         *core.Call
	transport    core.Transport
	planner      *planner.Planner
	retriever    core.Retriever
	appointments core.AppointmentStore
	opts         Options
	logger       logging.Logger

	mu          sync.Mutex
	cancelTurn  context.CancelFunc
	silenceRun  int
	outcomeSent bool
}

// NewMachine creates a state machine for the given call.
func NewMachine(
	c *core.Call,
	transport core.Transport,
	turnPlanner *planner.Planner,
	retriever core.Retriever,
	appointments core.AppointmentStore,
	optFns ...func(o *Options),
) *Machine {
	opts := Options{
		Greeting:        "Thank you for calling My Dentist. I'm the automated assistant. How can I help you today?",
		SilenceGoodbye:  "I didn't receive any input. Please call back when you're ready. Goodbye!",
		TransferTarget:  "front-desk",
		GroundingTopK:   3,
		MaxSilenceTurns: 2,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Machine{
		call:         c,
		transport:    transport,
		planner:      turnPlanner,
		retriever:    retriever,
		appointments: appointments,
		opts:         opts,
		logger:       opts.Logger,
	}
}

// Call returns the call this machine owns.
func (m *Machine) Call() *core.Call { return m.call }

// HandleEvent applies one transport event. The registry guarantees events
// for the same call arrive here strictly in order and never concurrently.
func (m *Machine) HandleEvent(ctx context.Context, ev core.TransportEvent) {
	state := m.call.State()
	if state == core.StateEnded {
		m.logger.Debug("event %s dropped, call %s already ended", ev.Type, m.call.ID)
		return
	}

	switch ev.Type {
	case core.EventCallConnected:
		if state != core.StateInitiating {
			m.logger.Warn("unexpected call_connected in state %s for call %s", state, m.call.ID)
			return
		}
		m.greet(ctx)

	case core.EventSpeechRecognized:
		if state != core.StateListening {
			m.logger.Warn("speech event in state %s for call %s, dropped", state, m.call.ID)
			return
		}
		m.mu.Lock()
		m.silenceRun = 0
		m.mu.Unlock()
		m.call.Append(core.NewUtterance(core.SpeakerPatient, ev.Speech))
		m.runTurn(ctx, ev.Speech)

	case core.EventSilence:
		if state != core.StateListening {
			m.logger.Warn("silence event in state %s for call %s, dropped", state, m.call.ID)
			return
		}
		m.mu.Lock()
		m.silenceRun++
		run := m.silenceRun
		m.mu.Unlock()

		silence := core.NewUtterance(core.SpeakerPatient, silenceText)
		silence.Intent = core.IntentSilence
		m.call.Append(silence)

		if run >= m.opts.MaxSilenceTurns {
			m.endCall(ctx, m.opts.SilenceGoodbye, core.OutcomeCompleted)
			return
		}
		m.runTurn(ctx, silenceText)

	case core.EventCallDisconnected:
		m.CancelInflight()
		m.setState(core.StateEnding)
		m.setState(core.StateEnded)
		m.reportOutcome(outcomeFromReason(ev.Reason))

	default:
		m.logger.Warn("unknown event type %s for call %s", ev.Type, m.call.ID)
	}
}

// CancelInflight aborts any in-flight retrieval or generation for this call.
// It is safe to invoke from any goroutine; the registry calls it as soon as
// a disconnect arrives so no stale turn is spoken after hangup.
func (m *Machine) CancelInflight() {
	m.mu.Lock()
	cancel := m.cancelTurn
	m.cancelTurn = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// greet transitions Initiating → Greeting, speaks the opening and starts
// listening. Outbound reminder calls open with the planned reminder script.
func (m *Machine) greet(ctx context.Context) {
	m.setState(core.StateGreeting)

	greeting := m.opts.Greeting
	if m.call.Direction == core.Outbound {
		greeting = m.reminderOpening(ctx)
	}

	m.call.Append(core.NewUtterance(core.SpeakerAgent, greeting))
	m.speakAndListen(ctx, greeting)
}

// reminderOpening plans the outbound opening, falling back to the scripted
// template when the backend or the appointment lookup fails.
func (m *Machine) reminderOpening(ctx context.Context) string {
	seed := m.call.Seed

	var when time.Time
	if m.appointments != nil && seed.AppointmentID != "" {
		if appt, err := m.appointments.Get(ctx, seed.AppointmentID); err == nil {
			when = appt.Time
		} else {
			m.logger.Warn("appointment lookup failed for call %s: %v", m.call.ID, err)
		}
	}

	if m.planner != nil && !when.IsZero() {
		opening, err := m.planner.ReminderOpening(ctx, seed, when)
		if err == nil {
			return opening
		}
		m.logger.Warn("reminder opening generation failed for call %s: %v", m.call.ID, err)
	}
	return planner.ScriptedReminderOpening(seed.PatientName, when)
}

// runTurn executes Thinking: best-effort retrieval, then planning, then the
// action. latest is the patient input already appended to history.
func (m *Machine) runTurn(ctx context.Context, latest string) {
	m.setState(core.StateThinking)

	turnCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelTurn = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelTurn = nil
		m.mu.Unlock()
		cancel()
	}()

	var grounding []core.KnowledgeChunk
	if m.retriever != nil {
		chunks, err := m.retriever.Retrieve(turnCtx, latest, m.opts.GroundingTopK)
		switch {
		case err == nil:
			grounding = chunks
		case errors.Is(err, core.ErrRetrievalUnavailable):
			m.logger.Warn("retrieval unavailable for call %s, continuing ungrounded: %v", m.call.ID, err)
		case turnCtx.Err() != nil:
			return // call ended while retrieving
		default:
			m.logger.Warn("retrieval failed for call %s, continuing ungrounded: %v", m.call.ID, err)
		}
	}

	history := m.call.History()
	if len(history) > 0 {
		history = history[:len(history)-1] // latest is passed separately
	}

	decision, err := m.planner.NextTurn(turnCtx, history, latest, grounding)
	if turnCtx.Err() != nil {
		m.logger.Debug("turn discarded, call %s ended mid-generation", m.call.ID)
		return
	}
	if err != nil {
		m.logger.Error("turn planning failed for call %s: %v", m.call.ID, err)
		m.call.Append(core.NewUtterance(core.SpeakerAgent, planner.FallbackUtterance))
		m.transferOut(ctx, planner.FallbackUtterance)
		return
	}

	m.call.Append(core.NewUtterance(core.SpeakerAgent, decision.Utterance))

	switch decision.Action {
	case planner.ActionConfirmAppointment:
		m.confirmAppointment(ctx)
		m.speakAndListen(ctx, decision.Utterance)
	case planner.ActionTransferToHuman:
		m.transferOut(ctx, decision.Utterance)
	case planner.ActionEndCall:
		m.endCall(ctx, decision.Utterance, core.OutcomeCompleted)
	default:
		m.speakAndListen(ctx, decision.Utterance)
	}
}

// confirmAppointment writes the confirmed flag. A failed write never aborts
// the call; persistence retries out of band.
func (m *Machine) confirmAppointment(ctx context.Context) {
	if m.appointments == nil || m.call.Seed.AppointmentID == "" {
		m.logger.Warn("confirm requested but no appointment associated with call %s", m.call.ID)
		return
	}
	if err := m.appointments.MarkConfirmed(ctx, m.call.Seed.AppointmentID); err != nil {
		m.logger.Error("appointment confirm write failed for call %s: %v", m.call.ID, err)
	}
}

// speakAndListen delivers the utterance and opens the next gather window.
func (m *Machine) speakAndListen(ctx context.Context, text string) {
	m.setState(core.StateSpeaking)
	m.send(ctx, core.Speak(text))
	m.send(ctx, core.GatherSpeech())
	m.setState(core.StateListening)
}

// transferOut speaks the handoff line and dials the transfer target.
func (m *Machine) transferOut(ctx context.Context, text string) {
	m.setState(core.StateSpeaking)
	m.send(ctx, core.Speak(text))
	m.setState(core.StateTransferring)
	m.send(ctx, core.Transfer(m.opts.TransferTarget))
}

// endCall speaks the goodbye, hangs up and finalizes the call.
func (m *Machine) endCall(ctx context.Context, text string, outcome core.Outcome) {
	m.setState(core.StateEnding)
	if text != "" {
		m.send(ctx, core.Speak(text))
	}
	m.send(ctx, core.HangUp())
	m.setState(core.StateEnded)
	m.reportOutcome(outcome)
}

func (m *Machine) send(ctx context.Context, cmd core.Command) {
	if err := m.transport.Send(ctx, m.call.ID, cmd); err != nil {
		m.logger.Warn("transport command %s failed for call %s: %v", cmd.Type, m.call.ID, err)
	}
}

func (m *Machine) setState(s core.CallState) {
	from := m.call.State()
	if err := m.call.SetState(s); err != nil {
		m.logger.Debug("transition to %s refused for call %s: %v", s, m.call.ID, err)
		return
	}
	m.logger.Debug("call %s: %s -> %s", m.call.ID, from, s)
}

// reportOutcome delivers the terminal result exactly once for outbound
// reminder calls.
func (m *Machine) reportOutcome(outcome core.Outcome) {
	if m.call.Direction != core.Outbound || m.call.Seed.JobID == "" || m.opts.OnOutcome == nil {
		return
	}
	m.mu.Lock()
	if m.outcomeSent {
		m.mu.Unlock()
		return
	}
	m.outcomeSent = true
	m.mu.Unlock()
	m.opts.OnOutcome(m.call.Seed.JobID, outcome)
}

// outcomeFromReason maps transport disconnect reasons onto job outcomes.
func outcomeFromReason(reason core.DisconnectReason) core.Outcome {
	switch reason {
	case core.DisconnectBusy:
		return core.OutcomeBusy
	case core.DisconnectNoAnswer:
		return core.OutcomeNoAnswer
	case core.DisconnectRejected:
		return core.OutcomeRejected
	case core.DisconnectFailed:
		return core.OutcomeFailed
	default:
		return core.OutcomeCompleted
	}
}
