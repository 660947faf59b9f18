package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/internal/testutil"
	"github.com/hupe1980/voicemesh/model"
)

func TestNextTurn_ContinueWithoutMarker(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "We're open nine to five."})
	p := New(llm)

	d, err := p.NextTurn(context.Background(), nil, "What are your hours?", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, d.Action)
	assert.Equal(t, "We're open nine to five.", d.Utterance)
}

func TestNextTurn_MarkerMapping(t *testing.T) {
	cases := []struct {
		marker string
		want   Action
	}{
		{model.MarkerConfirmAppointment, ActionConfirmAppointment},
		{model.MarkerTransferToHuman, ActionTransferToHuman},
		{model.MarkerEndCall, ActionEndCall},
		{"", ActionContinue},
		{"unknown_marker", ActionContinue},
	}
	for _, tc := range cases {
		llm := testutil.NewScriptedModel(model.Response{Text: "ok", Marker: tc.marker})
		p := New(llm)
		d, err := p.NextTurn(context.Background(), nil, "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, d.Action, "marker %q", tc.marker)
	}
}

func TestNextTurn_MarkerMappingIsDeterministic(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "bye", Marker: model.MarkerEndCall})
	p := New(llm)
	for i := 0; i < 5; i++ {
		d, err := p.NextTurn(context.Background(), nil, "bye now", nil)
		require.NoError(t, err)
		assert.Equal(t, ActionEndCall, d.Action)
	}
}

func TestNextTurn_GenerationFailure(t *testing.T) {
	llm := testutil.NewScriptedModel()
	llm.FailWith(errors.New("rate limited"))
	p := New(llm)

	_, err := p.NextTurn(context.Background(), nil, "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
}

func TestNextTurn_EmptyUtteranceWithActionGetsDefaultText(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Marker: model.MarkerTransferToHuman})
	p := New(llm)

	d, err := p.NextTurn(context.Background(), nil, "I need a person", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionTransferToHuman, d.Action)
	assert.NotEmpty(t, d.Utterance)
}

func TestNextTurn_EmptyUtteranceWithoutActionFails(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "   "})
	p := New(llm)

	_, err := p.NextTurn(context.Background(), nil, "hello", nil)
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
}

func TestNextTurn_GroundingReachesBackend(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "ok"})
	p := New(llm)

	grounding := []core.KnowledgeChunk{
		{Text: "Opening hours: 9 to 5."},
		{Text: "Free parking available."},
	}
	_, err := p.NextTurn(context.Background(), nil, "hours?", grounding)
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Grounding, "1. Opening hours: 9 to 5.")
	assert.Contains(t, reqs[0].Grounding, "2. Free parking available.")
}

func TestNextTurn_EmptyGroundingOmittedFromRequest(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "ok"})
	p := New(llm)

	_, err := p.NextTurn(context.Background(), nil, "hello", nil)
	require.NoError(t, err)
	assert.Empty(t, llm.Requests()[0].Grounding)
}

func TestNextTurn_HistoryIsBounded(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "ok"})
	p := New(llm, func(o *Options) { o.MaxHistoryTurns = 4 })

	var history []core.Utterance
	for i := 0; i < 30; i++ {
		history = append(history, testutil.PatientSays("older turn"))
	}
	history = append(history, testutil.AgentSays("newest agent turn"))

	_, err := p.NextTurn(context.Background(), history, "latest", nil)
	require.NoError(t, err)

	turns := llm.Requests()[0].Turns
	// 4 bounded history turns plus the latest patient input.
	require.Len(t, turns, 5)
	assert.Equal(t, model.RoleAssistant, turns[3].Role)
	assert.Equal(t, "newest agent turn", turns[3].Text)
	assert.Equal(t, model.RoleUser, turns[4].Role)
	assert.Equal(t, "latest", turns[4].Text)
}

func TestReminderOpening_UsesSeedAndTime(t *testing.T) {
	llm := testutil.NewScriptedModel(model.Response{Text: "Hi Jordan, reminding you about tomorrow."})
	p := New(llm)

	when := time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)
	seed := core.SeedContext{PatientName: "Jordan", Message: "Bring your insurance card."}
	opening, err := p.ReminderOpening(context.Background(), seed, when)
	require.NoError(t, err)
	assert.Equal(t, "Hi Jordan, reminding you about tomorrow.", opening)

	prompt := llm.Requests()[0].Turns[0].Text
	assert.Contains(t, prompt, "Jordan")
	assert.Contains(t, prompt, "Monday, March 9 at 2:30 PM")
	assert.Contains(t, prompt, "Bring your insurance card.")
}

func TestReminderOpening_FailurePropagates(t *testing.T) {
	llm := testutil.NewScriptedModel()
	llm.FailWith(errors.New("timeout"))
	p := New(llm)

	_, err := p.ReminderOpening(context.Background(), core.SeedContext{PatientName: "Jordan"}, time.Now())
	assert.ErrorIs(t, err, core.ErrGenerationFailure)
}

func TestScriptedReminderOpening(t *testing.T) {
	when := time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC)
	got := ScriptedReminderOpening("Jordan", when)
	assert.Contains(t, got, "Jordan")
	assert.Contains(t, got, "Monday, March 9 at 2:30 PM")
	assert.True(t, strings.HasPrefix(got, "Hello Jordan"))

	// Unknown appointment time falls back to a generic phrasing.
	got = ScriptedReminderOpening("Jordan", time.Time{})
	assert.Contains(t, got, "your upcoming appointment")
	assert.NotContains(t, got, "0001")
}
