package participants

import (
	"testing"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func ai(model, persona string) dialogue.Participant {
	return dialogue.Participant{Kind: dialogue.ActorAI, ModelID: model, Persona: persona}
}

func human() dialogue.Participant {
	return dialogue.Participant{Kind: dialogue.ActorHuman, Persona: "User"}
}

func TestConfigure_TwoPartyAssignsOrdinalIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Configure([]dialogue.Participant{ai("llama3", "INTJ"), ai("mistral", "ENFP")}, dialogue.ModeTwoParty))

	ps := r.Participants()
	require.Len(t, ps, 2)
	require.Equal(t, 1, ps[0].ID)
	require.Equal(t, 2, ps[1].ID)
	require.Equal(t, dialogue.ModeTwoParty, r.Mode())
}

func TestConfigure_RejectsInvalidShapes(t *testing.T) {
	cases := []struct {
		name string
		mode dialogue.Mode
		ps   []dialogue.Participant
	}{
		{"two-party with one participant", dialogue.ModeTwoParty, []dialogue.Participant{ai("a", "")}},
		{"two-party with three participants", dialogue.ModeTwoParty, []dialogue.Participant{ai("a", ""), ai("b", ""), ai("c", "")}},
		{"two-party with a human", dialogue.ModeTwoParty, []dialogue.Participant{ai("a", ""), human()}},
		{"multi-party with one slot", dialogue.ModeMultiParty, []dialogue.Participant{ai("a", "")}},
		{"multi-party with six slots", dialogue.ModeMultiParty, []dialogue.Participant{ai("a", ""), ai("b", ""), ai("c", ""), ai("d", ""), ai("e", ""), human()}},
		{"human not last", dialogue.ModeMultiParty, []dialogue.Participant{ai("a", ""), human(), ai("c", "")}},
		{"two humans", dialogue.ModeMultiParty, []dialogue.Participant{ai("a", ""), human(), human()}},
		{"ai without model", dialogue.ModeMultiParty, []dialogue.Participant{ai("a", ""), ai(" ", "")}},
		{"human with model", dialogue.ModeMultiParty, []dialogue.Participant{ai("a", ""), {Kind: dialogue.ActorHuman, ModelID: "x"}}},
		{"duplicate ids", dialogue.ModeMultiParty, []dialogue.Participant{{ID: 1, Kind: dialogue.ActorAI, ModelID: "a"}, {ID: 1, Kind: dialogue.ActorAI, ModelID: "b"}}},
		{"unknown mode", dialogue.Mode("round-robin"), []dialogue.Participant{ai("a", ""), ai("b", "")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Configure(tc.ps, tc.mode)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)
			require.Equal(t, 0, r.Len())
		})
	}
}

func TestConfigure_MultiPartyWithTrailingHuman(t *testing.T) {
	r := NewRegistry()
	ps := []dialogue.Participant{ai("m1", ""), ai("m2", ""), ai("m3", ""), ai("m4", ""), human()}
	require.NoError(t, r.Configure(ps, dialogue.ModeMultiParty))
	require.Equal(t, 5, r.Len())
	require.True(t, r.At(4).IsHuman())

	p, ok := r.ByID(5)
	require.True(t, ok)
	require.True(t, p.IsHuman())
}

func TestMutate_BeforeAndAfterLock(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Configure([]dialogue.Participant{ai("a", "INTJ"), ai("b", "ENFP")}, dialogue.ModeTwoParty))

	model := "qwen2"
	persona := "ISTJ"
	require.NoError(t, r.Mutate(1, &model, &persona))
	require.Equal(t, "qwen2", r.At(1).ModelID)
	require.Equal(t, "ISTJ", r.At(1).Persona)

	require.NoError(t, r.Mutate(0, nil, &persona))
	require.Equal(t, "a", r.At(0).ModelID)

	empty := ""
	err := r.Mutate(0, &empty, nil)
	require.True(t, errors.Is(err, ErrInvalidConfiguration))

	err = r.Mutate(7, &model, nil)
	require.True(t, errors.Is(err, ErrIndexOutOfRange))

	r.Lock()
	require.True(t, r.Locked())
	err = r.Mutate(0, &model, nil)
	require.True(t, errors.Is(err, ErrSessionAlreadyStarted))
	require.Equal(t, "a", r.At(0).ModelID)
}

func TestParticipants_ReturnsCopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Configure([]dialogue.Participant{ai("a", ""), ai("b", "")}, dialogue.ModeTwoParty))

	ps := r.Participants()
	ps[0].ModelID = "changed"
	require.Equal(t, "a", r.At(0).ModelID)
}
