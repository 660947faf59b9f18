package model

import (
	"context"
	"fmt"
)

// Conversation roles used in Request.Turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single conversational message handed to the backend.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request captures the normalized generation input produced by the planner.
type Request struct {
	// Instruction is the system prompt governing the agent persona.
	Instruction string `json:"instruction"`
	// Grounding is the formatted knowledge-base block, empty when retrieval
	// was unavailable or returned nothing.
	Grounding string `json:"grounding,omitempty"`
	// Turns is the bounded conversation history, oldest first, ending with
	// the latest patient utterance.
	Turns []Turn `json:"turns"`
}

// Markers the backend may attach to a response. A marker is emitted through
// the backend's tool-calling channel; adapters translate the tool call into
// Response.Marker so callers never parse free text for control actions.
const (
	MarkerConfirmAppointment = "confirm_appointment"
	MarkerTransferToHuman    = "transfer_to_human"
	MarkerEndCall            = "end_call"
)

// MarkerDefinition declares one action marker exposed to the backend as a
// callable function.
type MarkerDefinition struct {
	Name        string
	Description string
}

// ActionMarkers returns the fixed marker set every adapter exposes to its
// backend. The set is deliberately closed; adding a marker means adding an
// action to the call state machine.
func ActionMarkers() []MarkerDefinition {
	return []MarkerDefinition{
		{
			Name:        MarkerConfirmAppointment,
			Description: "Call this when the patient has clearly confirmed they will attend their appointment.",
		},
		{
			Name:        MarkerTransferToHuman,
			Description: "Call this when the patient should be connected to office staff, e.g. to reschedule or for questions you cannot answer.",
		},
		{
			Name:        MarkerEndCall,
			Description: "Call this when the conversation is complete and the call should end politely.",
		},
	}
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the backend's answer for one turn: the utterance to speak and
// an optional action marker.
type Response struct {
	Text   string      `json:"text"`
	Marker string      `json:"marker,omitempty"`
	Usage  *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name            string `json:"name"`
	Provider        string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsMarkers bool   `json:"supports_markers"`
}

// Model is the minimal interface the planner requires to drive generation.
// Generate blocks until the backend answers or ctx is cancelled; a voice
// turn is spoken whole, so there is no streaming path.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Canned responses are keyed by the latest user turn text.
type MockModel struct {
	info      Info
	responses map[string]Response
}

// NewMockModel constructs a MockModel with marker support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:            name,
			Provider:        provider,
			SupportsMarkers: true,
		},
		responses: make(map[string]Response),
	}
}

// AddResponse registers a deterministic canned response for an input turn.
func (m *MockModel) AddResponse(input string, resp Response) { m.responses[input] = resp }

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("no turns provided")
	}
	last := req.Turns[len(req.Turns)-1]
	if resp, ok := m.responses[last.Text]; ok {
		return &resp, nil
	}
	return &Response{Text: fmt.Sprintf("Mock response to: %s", last.Text)}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
