package transcript

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func turn(round, participant int, content string) dialogue.Turn {
	return dialogue.Turn{RoundIndex: round, ParticipantID: participant, Content: content}
}

func TestStore_AppendPreservesOrderAndFillsDefaults(t *testing.T) {
	s := NewStore()
	first, err := s.Append(turn(0, dialogue.ModeratorID, "topic"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.False(t, first.ProducedAt.IsZero())

	_, err = s.Append(turn(1, 1, "a"))
	require.NoError(t, err)
	_, err = s.Append(turn(2, 2, "b"))
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, 3)
	require.Equal(t, []string{"topic", "a", "b"}, []string{all[0].Content, all[1].Content, all[2].Content})
	require.Equal(t, 2, s.LastRound())

	last, ok := s.Last()
	require.True(t, ok)
	require.Equal(t, "b", last.Content)
}

func TestStore_RejectsRoundRegression(t *testing.T) {
	s := NewStore()
	_, err := s.Append(turn(0, dialogue.ModeratorID, "topic"))
	require.NoError(t, err)
	_, err = s.Append(turn(3, 1, "a"))
	require.NoError(t, err)

	_, err = s.Append(turn(2, 2, "b"))
	require.True(t, errors.Is(err, ErrRoundRegression))
	require.Equal(t, 2, s.Len())

	_, err = s.Append(turn(-1, 2, "b"))
	require.ErrorIs(t, err, ErrNegativeRound)

	// same round is allowed (moderator interjections, opening fan-out)
	_, err = s.Append(turn(3, dialogue.ModeratorID, "interjection"))
	require.NoError(t, err)
}

func TestStore_Views(t *testing.T) {
	s := NewStore()
	for _, tt := range []dialogue.Turn{
		turn(0, dialogue.ModeratorID, "topic"),
		turn(1, 1, "a1"),
		turn(2, 2, "b1"),
		turn(2, dialogue.ModeratorID, "note"),
		turn(3, 1, "a2"),
	} {
		_, err := s.Append(tt)
		require.NoError(t, err)
	}

	require.Len(t, s.TurnsInRound(2), 2)
	require.Empty(t, s.TurnsInRound(9))
	byA := s.TurnsBy(1)
	require.Len(t, byA, 2)
	require.Equal(t, "a2", byA[1].Content)
	require.Len(t, s.TurnsBy(dialogue.ModeratorID), 2)

	// views are copies
	view := s.All()
	view[0].Content = "mutated"
	require.Equal(t, "topic", s.All()[0].Content)
}

func TestStore_ConcurrentReadsDuringAppend(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = s.Append(turn(i, 1, "x"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.All()
			_ = s.TurnsInRound(i)
		}
	}()
	wg.Wait()
	require.Equal(t, 200, s.Len())
}

func TestSerde_YAMLRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sess := &dialogue.Session{
		ID: "s-1",
		Config: dialogue.Config{
			Mode:          dialogue.ModeTwoParty,
			InitialPrompt: "Is water wet?",
			MaxRounds:     2,
		},
		Participants: []dialogue.Participant{
			{ID: 1, Kind: dialogue.ActorAI, ModelID: "a"},
			{ID: 2, Kind: dialogue.ActorAI, ModelID: "b"},
		},
		Transcript: []dialogue.Turn{
			{ID: "t0", RoundIndex: 0, ParticipantID: dialogue.ModeratorID, Content: "Is water wet?", ProducedAt: at},
			{ID: "t1", RoundIndex: 1, ParticipantID: 1, DisplayName: "a", Content: "yes", ProducedAt: at},
		},
		Status: dialogue.StatusRunning,
		Cursor: 1,
	}

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, SaveSessionYAML(path, sess))
	got, err := LoadSessionYAML(path)
	require.NoError(t, err)

	require.Equal(t, dialogue.KindDebate, got.Config.Kind)
	require.Equal(t, "Is water wet?", got.Config.Topic)
	require.Equal(t, dialogue.ModeratorName, got.Transcript[0].DisplayName)
	require.Equal(t, sess.Transcript[1], got.Transcript[1])
	require.Equal(t, 1, got.Cursor)
}

func TestSerde_RejectsMalformedTranscript(t *testing.T) {
	y := []byte(`
id: broken
config: {mode: two-party, initial_prompt: x, max_rounds: 2}
transcript:
  - {round: 2, participant_id: 1, content: a}
  - {round: 1, participant_id: 2, content: b}
`)
	_, err := FromYAML(y)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRoundRegression))
}
