// Package planner turns conversation state into the next spoken utterance.
// Given history, the latest patient utterance and retrieved grounding chunks
// it produces a Decision: what to say and which action to take. The planner
// is pure with respect to retrieval timing; the caller supplies grounding.
// Action classification reads only the structured marker channel of the
// generation backend, never free text.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
)

// Action is the structured outcome of a planned turn.
type Action string

const (
	// ActionContinue keeps the conversation going: speak, then listen again.
	ActionContinue Action = "continue"
	// ActionConfirmAppointment marks the associated appointment confirmed,
	// then continues.
	ActionConfirmAppointment Action = "confirm_appointment"
	// ActionTransferToHuman hands the call to office staff.
	ActionTransferToHuman Action = "transfer_to_human"
	// ActionEndCall ends the call politely.
	ActionEndCall Action = "end_call"
)

// Decision is the planner's answer for one turn.
type Decision struct {
	Utterance string
	Action    Action
}

// FallbackUtterance is the scripted response spoken when the generation
// backend fails; the state machine forces a transfer alongside it.
const FallbackUtterance = "I'm having trouble right now. Let me connect you with our office staff."

// defaultInstruction is the persona prompt for regular patient questions.
const defaultInstruction = `You are a helpful dental assistant for the 'My Dentist' practice.
You help patients by answering their questions about dental procedures, office
policies, and appointment information.

Be professional, friendly, and concise. If you don't know an answer, politely
say so and offer to connect the patient with a human staff member by calling
the transfer_to_human function. When the patient clearly confirms they will
attend their appointment, call the confirm_appointment function. When the
conversation is complete, call the end_call function.

Always speak as if you're having a voice conversation. Keep responses brief
and natural.`

// reminderInstruction governs the scripted opening of outbound reminder calls.
const reminderInstruction = `You are calling to remind a patient about their upcoming dental
appointment on behalf of the 'My Dentist' office. Be professional, friendly,
and concise.

Include in your reminder: identify yourself as calling from the 'My Dentist'
office, mention the patient's name, state the appointment date and time, and
ask them to confirm they'll attend. If they need to reschedule, tell them you
will connect them with the front desk.

Keep the conversation brief and natural, as if you're having a phone
conversation.`

// Options configure a Planner.
type Options struct {
	// Instruction overrides the default persona prompt.
	Instruction string
	// ReminderInstruction overrides the outbound reminder prompt.
	ReminderInstruction string
	// MaxHistoryTurns bounds how many conversation turns reach the backend.
	MaxHistoryTurns int
	// Logger receives planner diagnostics.
	Logger logging.Logger
}

// Planner drives the generation backend for one conversation turn at a time.
type Planner struct {
	llm  model.Model
	opts Options
}

// New creates a planner over the given generation backend.
func New(llm model.Model, optFns ...func(o *Options)) *Planner {
	opts := Options{
		Instruction:         defaultInstruction,
		ReminderInstruction: reminderInstruction,
		MaxHistoryTurns:     20,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Planner{llm: llm, opts: opts}
}

// NextTurn plans the agent's next utterance. The latest patient utterance is
// passed separately from history so the caller controls exactly what the
// backend sees as the current input. Failures wrap
// core.ErrGenerationFailure; the caller maps that to the scripted fallback.
func (p *Planner) NextTurn(
	ctx context.Context,
	history []core.Utterance,
	latest string,
	grounding []core.KnowledgeChunk,
) (*Decision, error) {
	req := model.Request{
		Instruction: p.opts.Instruction,
		Grounding:   formatGrounding(grounding),
		Turns:       append(p.buildTurns(history), model.Turn{Role: model.RoleUser, Text: latest}),
	}

	start := time.Now()
	resp, err := p.llm.Generate(ctx, req)
	if err != nil {
		p.opts.Logger.Warn("generation failed after %s: %v", time.Since(start), err)
		return nil, fmt.Errorf("%w: %v", core.ErrGenerationFailure, err)
	}

	action := classify(resp.Marker)
	utterance := strings.TrimSpace(resp.Text)
	if utterance == "" {
		switch action {
		case ActionTransferToHuman:
			utterance = "I'll connect you with our office staff. Please hold."
		case ActionEndCall:
			utterance = "Thank you for calling My Dentist. Goodbye!"
		case ActionConfirmAppointment:
			utterance = "Thank you for confirming your appointment. We look forward to seeing you."
		default:
			// No text and no actionable marker is malformed output.
			return nil, fmt.Errorf("%w: backend returned empty utterance", core.ErrGenerationFailure)
		}
	}

	return &Decision{Utterance: utterance, Action: action}, nil
}

// ReminderOpening generates the opening utterance of an outbound reminder
// call from the appointment details. On backend failure the caller should
// fall back to ScriptedReminderOpening.
func (p *Planner) ReminderOpening(ctx context.Context, seed core.SeedContext, when time.Time) (string, error) {
	prompt := fmt.Sprintf(
		"You're calling to remind %s about their dental appointment on %s.",
		seed.PatientName, when.Format("Monday, January 2 at 3:04 PM"),
	)
	if seed.Message != "" {
		prompt += "\nAdditional information: " + seed.Message
	}

	resp, err := p.llm.Generate(ctx, model.Request{
		Instruction: p.opts.ReminderInstruction,
		Turns:       []model.Turn{{Role: model.RoleUser, Text: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrGenerationFailure, err)
	}
	opening := strings.TrimSpace(resp.Text)
	if opening == "" {
		return "", fmt.Errorf("%w: backend returned empty reminder", core.ErrGenerationFailure)
	}
	return opening, nil
}

// ScriptedReminderOpening is the deterministic template used when the
// backend cannot produce a reminder opening.
func ScriptedReminderOpening(patientName string, when time.Time) string {
	appointment := "your upcoming appointment"
	if !when.IsZero() {
		appointment = "your appointment on " + when.Format("Monday, January 2 at 3:04 PM")
	}
	return fmt.Sprintf(
		"Hello %s, this is the My Dentist office calling to remind you about %s. Can you confirm that you'll attend?",
		patientName, appointment,
	)
}

// buildTurns converts the bounded tail of the conversation history into
// backend turns.
func (p *Planner) buildTurns(history []core.Utterance) []model.Turn {
	if p.opts.MaxHistoryTurns > 0 && len(history) > p.opts.MaxHistoryTurns {
		history = history[len(history)-p.opts.MaxHistoryTurns:]
	}
	turns := make([]model.Turn, 0, len(history)+1)
	for _, u := range history {
		role := model.RoleUser
		if u.Speaker == core.SpeakerAgent {
			role = model.RoleAssistant
		}
		turns = append(turns, model.Turn{Role: role, Text: u.Text})
	}
	return turns
}

// formatGrounding renders retrieved chunks into the block format the
// instruction refers to. Empty grounding yields an empty string so the
// backend sees no stale context.
func formatGrounding(chunks []core.KnowledgeChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Use the following information from the dental practice knowledge base to answer the question if relevant:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, chunk.Text)
	}
	return b.String()
}

// classify maps a structured marker to an action. Identical marker input
// always yields the identical action; no free-text heuristics are involved.
func classify(marker string) Action {
	switch marker {
	case model.MarkerConfirmAppointment:
		return ActionConfirmAppointment
	case model.MarkerTransferToHuman:
		return ActionTransferToHuman
	case model.MarkerEndCall:
		return ActionEndCall
	default:
		return ActionContinue
	}
}
