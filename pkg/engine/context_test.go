package engine

import (
	"strings"
	"testing"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/stretchr/testify/require"
)

var twoParty = dialogue.Config{
	Mode:          dialogue.ModeTwoParty,
	InitialPrompt: "Is water wet?",
	MaxRounds:     4,
}

var seats = []dialogue.Participant{
	{ID: 1, Kind: dialogue.ActorAI, ModelID: "llama3", Persona: "INTJ - Architect", Name: "Ada"},
	{ID: 2, Kind: dialogue.ActorAI, ModelID: "mistral", Persona: "ENFP - Campaigner", Name: "Bo"},
}

func history(turns ...dialogue.Turn) []dialogue.Turn {
	return turns
}

func moderator(content string) dialogue.Turn {
	return dialogue.Turn{ParticipantID: dialogue.ModeratorID, DisplayName: dialogue.ModeratorName, Content: content}
}

func said(p dialogue.Participant, round int, content string) dialogue.Turn {
	return dialogue.Turn{RoundIndex: round, ParticipantID: p.ID, DisplayName: p.DisplayName(), Persona: p.Persona, Content: content}
}

func TestBuild_OpeningOnlySeesTopic(t *testing.T) {
	b, err := NewContextBuilder()
	require.NoError(t, err)

	req, err := b.Build(twoParty, seats, seats[0], history(moderator("Is water wet?")))
	require.NoError(t, err)

	require.Len(t, req.Messages, 1)
	require.Equal(t, RoleUser, req.Messages[0].Role)
	require.Equal(t, "The topic of this debate is: Is water wet?\n\nWhat is your position?", req.Messages[0].Content)
	require.Equal(t, "llama3", req.ModelID)
	require.Equal(t, 1, req.ParticipantID)
	require.Equal(t, DefaultOptions(), req.Options)
	require.True(t, strings.HasPrefix(req.SystemPrompt, "You are an INTJ"))
	require.Contains(t, req.SystemPrompt, "Your conversational partner has a different personality")
}

func TestBuild_RolesFollowSpeaker(t *testing.T) {
	b, err := NewContextBuilder()
	require.NoError(t, err)

	h := history(
		moderator("Is water wet?"),
		said(seats[0], 1, "Yes."),
		said(seats[1], 2, "No!"),
		dialogue.Turn{RoundIndex: 2, ParticipantID: dialogue.ModeratorID, Content: "Define wet."},
	)
	req, err := b.Build(twoParty, seats, seats[0], h)
	require.NoError(t, err)

	require.Equal(t, []Message{
		{Role: RoleUser, Content: "The topic of this debate is: Is water wet?\n\nWhat is your position?"},
		{Role: RoleAssistant, Content: "Yes."},
		{Role: RoleUser, Content: "Bo (ENFP): No!"},
		{Role: RoleUser, Content: "MODERATOR: Define wet."},
		{Role: RoleUser, Content: "It is your turn, Ada. Answer in keeping with your personality (INTJ). Be brief and concrete."},
	}, req.Messages)

	full := req.ChatMessages()
	require.Equal(t, RoleSystem, full[0].Role)
	require.Len(t, full, 6)
}

func TestBuild_SkipsFailedTurns(t *testing.T) {
	b, err := NewContextBuilder()
	require.NoError(t, err)

	failed := said(seats[0], 1, "[no response]")
	failed.Failed = true
	req, err := b.Build(twoParty, seats, seats[1], history(moderator("Is water wet?"), failed))
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
}

func TestBuild_DocumentAndTemplates(t *testing.T) {
	b, err := NewContextBuilder(
		WithDocument("  Water is H2O.  "),
		WithTemplates("", "Go, {{ .Speaker | upper }}."),
		WithOptions(Options{Temperature: 0.1, NumCtx: 1024}),
	)
	require.NoError(t, err)

	req, err := b.Build(twoParty, seats, seats[1], history(moderator("Is water wet?"), said(seats[0], 1, "Yes.")))
	require.NoError(t, err)
	require.Contains(t, req.Messages[0].Content, "Background material:\nWater is H2O.")
	require.Equal(t, "Go, BO.", req.Messages[len(req.Messages)-1].Content)
	require.Equal(t, 0.1, req.Options.Temperature)

	_, err = NewContextBuilder(WithTemplates("{{ .Nope", ""))
	require.Error(t, err)
}

func TestBuild_MultiPartySystemPrompt(t *testing.T) {
	b, err := NewContextBuilder()
	require.NoError(t, err)

	roster := append([]dialogue.Participant{}, seats...)
	roster = append(roster, dialogue.Participant{ID: 3, Kind: dialogue.ActorHuman})
	cfg := twoParty
	cfg.Mode = dialogue.ModeMultiParty
	cfg.Kind = dialogue.KindDiscussion

	req, err := b.Build(cfg, roster, roster[1], history(moderator("Is water wet?")))
	require.NoError(t, err)
	require.Contains(t, req.SystemPrompt, "discussion with 2 other participants, one of them a human")
	require.True(t, strings.HasPrefix(req.Messages[0].Content, "The topic of this discussion is"))
}

func TestBuild_TokenBudgetKeepsOpeningAndInstruction(t *testing.T) {
	b, err := NewContextBuilder(WithTokenBudget(1))
	require.NoError(t, err)

	h := history(moderator("Is water wet?"))
	for i := 1; i <= 6; i++ {
		h = append(h, said(seats[(i-1)%2], i, strings.Repeat("words and more words ", 10)))
	}
	req, err := b.Build(twoParty, seats, seats[0], h)
	require.NoError(t, err)

	require.Len(t, req.Messages, 2)
	require.True(t, strings.HasPrefix(req.Messages[0].Content, "The topic of this debate"))
	require.True(t, strings.HasPrefix(req.Messages[1].Content, "It is your turn"))
	require.Greater(t, b.CountTokens("hello world"), 0)
}

func TestBuild_LargeBudgetKeepsEverything(t *testing.T) {
	b, err := NewContextBuilder(WithTokenBudget(100000))
	require.NoError(t, err)

	h := history(moderator("Is water wet?"), said(seats[0], 1, "Yes."), said(seats[1], 2, "No."))
	req, err := b.Build(twoParty, seats, seats[0], h)
	require.NoError(t, err)
	require.Len(t, req.Messages, 4)
}
