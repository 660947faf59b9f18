package core

import (
	"context"
	"time"
)

// EventType tags a transport event variant.
type EventType string

const (
	// EventCallConnected reports the remote party answered.
	EventCallConnected EventType = "call_connected"
	// EventSpeechRecognized delivers transcribed patient speech.
	EventSpeechRecognized EventType = "speech_recognized"
	// EventSilence reports that no speech arrived within the gather window.
	EventSilence EventType = "silence"
	// EventCallDisconnected reports the call ended on the transport side.
	// It is an expected terminal event, not an error.
	EventCallDisconnected EventType = "call_disconnected"
)

// DisconnectReason qualifies an EventCallDisconnected.
type DisconnectReason string

const (
	// DisconnectCompleted means the call ran to completion.
	DisconnectCompleted DisconnectReason = "completed"
	// DisconnectBusy means the line was busy.
	DisconnectBusy DisconnectReason = "busy"
	// DisconnectNoAnswer means the remote party never picked up.
	DisconnectNoAnswer DisconnectReason = "no-answer"
	// DisconnectRejected means the remote party declined the call.
	DisconnectRejected DisconnectReason = "rejected"
	// DisconnectFailed covers transport level failures.
	DisconnectFailed DisconnectReason = "failed"
)

// TransportEvent is the tagged variant delivered by the telephony transport
// for one call. Speech carries the transcription for EventSpeechRecognized;
// Reason qualifies EventCallDisconnected.
type TransportEvent struct {
	Type      EventType        `json:"type"`
	Speech    string           `json:"speech,omitempty"`
	Reason    DisconnectReason `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewTransportEvent creates a timestamped event of the given type.
func NewTransportEvent(t EventType) TransportEvent {
	return TransportEvent{Type: t, Timestamp: time.Now().UTC()}
}

// SpeechEvent creates a speech-recognized event carrying the transcription.
func SpeechEvent(text string) TransportEvent {
	ev := NewTransportEvent(EventSpeechRecognized)
	ev.Speech = text
	return ev
}

// DisconnectEvent creates a disconnect event with the given reason.
func DisconnectEvent(reason DisconnectReason) TransportEvent {
	ev := NewTransportEvent(EventCallDisconnected)
	ev.Reason = reason
	return ev
}

// CommandType tags a transport command variant.
type CommandType string

const (
	// CommandSpeak synthesizes the given text to the caller.
	CommandSpeak CommandType = "speak"
	// CommandGatherSpeech opens a speech-recognition window.
	CommandGatherSpeech CommandType = "gather_speech"
	// CommandTransfer dials the call through to a human target.
	CommandTransfer CommandType = "transfer"
	// CommandHangUp terminates the call.
	CommandHangUp CommandType = "hang_up"
)

// Command is an instruction emitted by the state machine to the transport.
type Command struct {
	Type   CommandType `json:"type"`
	Text   string      `json:"text,omitempty"`
	Target string      `json:"target,omitempty"`
}

// Speak builds a speak command.
func Speak(text string) Command { return Command{Type: CommandSpeak, Text: text} }

// GatherSpeech builds a gather command.
func GatherSpeech() Command { return Command{Type: CommandGatherSpeech} }

// Transfer builds a transfer command to the given target.
func Transfer(target string) Command { return Command{Type: CommandTransfer, Target: target} }

// HangUp builds a hang-up command.
func HangUp() Command { return Command{Type: CommandHangUp} }

// Transport is the telephony boundary consumed by the engine. Events flow in
// through the registry; commands flow out through Send. PlaceCall may fail
// synchronously, in which case the error wraps ErrDispatchFailure and no
// session is ever created for the attempt.
type Transport interface {
	// PlaceCall dials the contact and returns the transport-assigned call
	// identifier for the new outbound call.
	PlaceCall(ctx context.Context, contact string) (string, error)

	// Send issues a command for an active call.
	Send(ctx context.Context, callID string, cmd Command) error
}
