package participants

import (
	"testing"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_HasSixteenArchetypes(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	require.Len(t, c.Personas(), 16)

	p := c.Personas()[0]
	require.Equal(t, "INTJ", p.Type())
	require.Equal(t, "Architect", p.Name())
}

func TestCatalog_LookupFallsBackToTypeCode(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	p, ok := c.Lookup("INTJ - Architect")
	require.True(t, ok)
	require.Equal(t, "INTJ - Architect", p.Key)

	p, ok = c.Lookup("enfp - Aktivista")
	require.True(t, ok)
	require.Equal(t, "ENFP - Campaigner", p.Key)

	_, ok = c.Lookup("Pirate Captain")
	require.False(t, ok)
	_, ok = c.Lookup("")
	require.False(t, ok)
}

func TestCatalog_SystemPrompt(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	neutral, err := c.SystemPrompt("", PromptContext{Mode: dialogue.ModeTwoParty})
	require.NoError(t, err)
	require.Equal(t, "You are having a conversation. Respond naturally.", neutral)

	unknown, err := c.SystemPrompt("Pirate Captain", PromptContext{Mode: dialogue.ModeTwoParty})
	require.NoError(t, err)
	require.Equal(t, "You are having a conversation as Pirate Captain. Stay in character.", unknown)

	twoParty, err := c.SystemPrompt("INTJ", PromptContext{Mode: dialogue.ModeTwoParty, Kind: dialogue.KindDebate, Others: 1})
	require.NoError(t, err)
	require.Contains(t, twoParty, "You are an INTJ, the Architect")
	require.Contains(t, twoParty, "Stay in character.")

	multi, err := c.SystemPrompt("ENTP", PromptContext{
		Mode:      dialogue.ModeMultiParty,
		Kind:      dialogue.KindDiscussion,
		Others:    4,
		WithHuman: true,
	})
	require.NoError(t, err)
	require.Contains(t, multi, "You are an ENTP")
	require.Contains(t, multi, "discussion with 4 other participants, one of them a human")
}

func TestLoadCatalog_RejectsBrokenTemplate(t *testing.T) {
	_, err := LoadCatalog([]byte("templates:\n  neutral: \"{{ .Oops \"\n"))
	require.Error(t, err)
}
