package core

import (
	"sync"
	"time"
)

// Direction indicates who originated a call.
type Direction string

const (
	// Inbound calls are placed by the patient and answered by the engine.
	Inbound Direction = "inbound"
	// Outbound calls are placed by the reminder scheduler.
	Outbound Direction = "outbound"
)

// CallState names a stage in the call lifecycle. Transitions follow
// Initiating → Greeting → Listening → Thinking → Speaking → (Listening |
// Transferring | Ending) → Ended. Ended is terminal and absorbing.
type CallState string

const (
	// StateInitiating is entered on session creation, before the transport
	// reports the call connected.
	StateInitiating CallState = "initiating"
	// StateGreeting delivers the opening utterance.
	StateGreeting CallState = "greeting"
	// StateListening waits for a transport speech-recognition event. This is
	// the sole suspension point tied to external patient input.
	StateListening CallState = "listening"
	// StateThinking runs retrieval plus turn planning.
	StateThinking CallState = "thinking"
	// StateSpeaking delivers the planned utterance to the transport.
	StateSpeaking CallState = "speaking"
	// StateTransferring hands the call to a human target.
	StateTransferring CallState = "transferring"
	// StateEnding winds the call down before the terminal state.
	StateEnding CallState = "ending"
	// StateEnded is terminal. No further transitions or transport commands
	// are accepted.
	StateEnded CallState = "ended"
)

// Speaker identifies which party produced an utterance.
type Speaker string

const (
	// SpeakerPatient marks utterances recognized from the patient.
	SpeakerPatient Speaker = "patient"
	// SpeakerAgent marks utterances spoken by the engine.
	SpeakerAgent Speaker = "agent"
)

// Intent tags common to patient utterances.
const (
	IntentConfirm    = "confirm"
	IntentReschedule = "reschedule"
	IntentUnclear    = "unclear"
	IntentSilence    = "silence"
)

// Utterance is one turn in a conversation. History entries are append-only;
// an utterance is never edited or removed once recorded.
type Utterance struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUtterance creates a timestamped utterance for the given speaker.
func NewUtterance(speaker Speaker, text string) Utterance {
	return Utterance{ID: NewID(), Speaker: speaker, Text: text, Timestamp: time.Now().UTC()}
}

// SeedContext carries the context an outbound reminder call starts from. It
// is empty for inbound calls.
type SeedContext struct {
	JobID         string
	AppointmentID string
	PatientName   string
	Message       string
}

// Call tracks the live state of one phone call. It is safe for concurrent
// access; the state machine mutates it while other components read
// snapshots.
//
// Contract:
//   - History is append-only and returned as a defensive copy
//   - SetState on an Ended call is a no-op returning ErrCallEnded
//   - LastActivity is bumped on every mutation
type Call struct {
	ID           string
	Direction    Direction
	Seed         SeedContext
	Created      time.Time
	mu           sync.RWMutex
	state        CallState
	history      []Utterance
	lastActivity time.Time
	endedAt      time.Time
}

// NewCall creates a call in the Initiating state.
func NewCall(id string, direction Direction, seed SeedContext) *Call {
	now := time.Now().UTC()
	return &Call{
		ID:           id,
		Direction:    direction,
		Seed:         seed,
		Created:      now,
		state:        StateInitiating,
		lastActivity: now,
	}
}

// State returns the current lifecycle state.
func (c *Call) State() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState moves the call to the given state. Once Ended the state is
// frozen and ErrCallEnded is returned.
func (c *Call) SetState(s CallState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return ErrCallEnded
	}
	c.state = s
	c.lastActivity = time.Now().UTC()
	if s == StateEnded {
		c.endedAt = c.lastActivity
	}
	return nil
}

// Append records an utterance at the end of the conversation history.
func (c *Call) Append(u Utterance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, u)
	c.lastActivity = time.Now().UTC()
}

// History returns a copy of the full conversation history so callers cannot
// mutate internal state.
func (c *Call) History() []Utterance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := make([]Utterance, len(c.history))
	copy(history, c.history)
	return history
}

// LastActivity reports when the call last changed state or history.
func (c *Call) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// EndedSince reports how long the call has been in the terminal state, or
// zero if it has not ended.
func (c *Call) EndedSince(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateEnded || c.endedAt.IsZero() {
		return 0
	}
	return now.Sub(c.endedAt)
}

// Snapshot is a read-only view of a call exposed to the administrative
// surface: state name and history only, no conversation internals.
type Snapshot struct {
	ID        string      `json:"id"`
	Direction Direction   `json:"direction"`
	State     CallState   `json:"state"`
	History   []Utterance `json:"history"`
}

// Snapshot returns a point-in-time copy of the call.
func (c *Call) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := make([]Utterance, len(c.history))
	copy(history, c.history)
	return Snapshot{ID: c.ID, Direction: c.Direction, State: c.state, History: history}
}
