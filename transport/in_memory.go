package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/voicemesh/core"
)

// EventHandler receives simulated transport events for a call. The engine
// wires this to the session registry. It is an alias so any function with
// the right shape satisfies it.
type EventHandler = func(callID string, ev core.TransportEvent)

// InMemoryTransport is a simulated telephony provider for tests, examples
// and single-process prototypes. It assigns sequential call identifiers,
// records every command per call, and delivers injected events through the
// registered handler. A hang-up command synchronously produces the matching
// disconnect event, the way a real provider reports call teardown.
type InMemoryTransport struct {
	mu       sync.Mutex
	nextCall int
	failures map[string]error // contact -> placement error
	commands map[string][]core.Command
	handler  EventHandler
}

// NewInMemoryTransport returns an empty simulated transport.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		failures: make(map[string]error),
		commands: make(map[string][]core.Command),
	}
}

// SetHandler registers the receiver for simulated events. Must be called
// before any events are delivered.
func (t *InMemoryTransport) SetHandler(h EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// FailContact makes subsequent placements to the contact fail with the
// given error. Pass nil to clear.
func (t *InMemoryTransport) FailContact(contact string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, contact)
		return
	}
	t.failures[contact] = err
}

// PlaceCall simulates dialing the contact. Configured failures are returned
// wrapped in core.ErrDispatchFailure; otherwise a fresh call identifier is
// assigned. The simulated call does not connect by itself; drive it with
// DeliverConnected or Disconnect.
func (t *InMemoryTransport) PlaceCall(_ context.Context, contact string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failures[contact]; ok {
		return "", fmt.Errorf("placement to %s rejected: %v: %w", contact, err, core.ErrDispatchFailure)
	}
	t.nextCall++
	callID := fmt.Sprintf("sim-call-%d", t.nextCall)
	t.commands[callID] = nil
	return callID, nil
}

// Send records the command for the call. A hang-up additionally delivers
// the completed-disconnect event to the handler.
func (t *InMemoryTransport) Send(_ context.Context, callID string, cmd core.Command) error {
	t.mu.Lock()
	t.commands[callID] = append(t.commands[callID], cmd)
	h := t.handler
	t.mu.Unlock()

	if cmd.Type == core.CommandHangUp && h != nil {
		h(callID, core.DisconnectEvent(core.DisconnectCompleted))
	}
	return nil
}

// Commands returns a snapshot of the commands recorded for the call.
func (t *InMemoryTransport) Commands(callID string) []core.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Command, len(t.commands[callID]))
	copy(out, t.commands[callID])
	return out
}

// Spoken returns the texts of all speak commands recorded for the call, in
// order.
func (t *InMemoryTransport) Spoken(callID string) []string {
	var texts []string
	for _, cmd := range t.Commands(callID) {
		if cmd.Type == core.CommandSpeak {
			texts = append(texts, cmd.Text)
		}
	}
	return texts
}

// DeliverConnected injects the call-connected event.
func (t *InMemoryTransport) DeliverConnected(callID string) {
	t.deliver(callID, core.NewTransportEvent(core.EventCallConnected))
}

// DeliverSpeech injects recognized patient speech.
func (t *InMemoryTransport) DeliverSpeech(callID, text string) {
	t.deliver(callID, core.SpeechEvent(text))
}

// DeliverSilence injects an empty gather window.
func (t *InMemoryTransport) DeliverSilence(callID string) {
	t.deliver(callID, core.NewTransportEvent(core.EventSilence))
}

// Disconnect injects a disconnect with the given reason.
func (t *InMemoryTransport) Disconnect(callID string, reason core.DisconnectReason) {
	t.deliver(callID, core.DisconnectEvent(reason))
}

func (t *InMemoryTransport) deliver(callID string, ev core.TransportEvent) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(callID, ev)
	}
}
