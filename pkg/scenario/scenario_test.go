package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const discussion = `
title: Cars in cities
mode: multi-party
kind: discussion
prompt: Should cities ban cars?
max_rounds: 8
participants:
  - model: llama3
    persona: INTJ
  - model: mistral
    source: kiklop
    name: Mistral
  - kind: human
options:
  temperature: 0.2
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(discussion))
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, dialogue.ModeMultiParty, cfg.Mode)
	assert.Equal(t, dialogue.KindDiscussion, cfg.Kind)
	assert.Equal(t, "Should cities ban cars?", cfg.InitialPrompt)
	assert.Equal(t, "Cars in cities", cfg.Topic)
	assert.Equal(t, 8, cfg.MaxRounds)
	require.NoError(t, cfg.Validate())

	ps := s.DialogueParticipants()
	require.Len(t, ps, 3)
	assert.Equal(t, 1, ps[0].ID)
	assert.Equal(t, dialogue.ActorAI, ps[0].Kind)
	assert.Equal(t, "kiklop", ps[1].Source)
	assert.Equal(t, "Mistral", ps[1].DisplayName())
	assert.True(t, ps[2].IsHuman())
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := map[string]string{
		"unknown mode":     "mode: chaos\nprompt: x\nmax_rounds: 2\nparticipants: [{model: a}, {model: b}]\n",
		"missing prompt":   "mode: two-party\nmax_rounds: 2\nparticipants: [{model: a}, {model: b}]\n",
		"zero rounds":      "mode: two-party\nprompt: x\nmax_rounds: 0\nparticipants: [{model: a}, {model: b}]\n",
		"one participant":  "mode: two-party\nprompt: x\nmax_rounds: 2\nparticipants: [{model: a}]\n",
		"unknown field":    "mode: two-party\nprompt: x\nmax_rounds: 2\nrounds: 3\nparticipants: [{model: a}, {model: b}]\n",
		"bad kind of seat": "mode: two-party\nprompt: x\nmax_rounds: 2\nparticipants: [{model: a}, {kind: robot}]\n",
		"not yaml":         "mode: [",
		"empty":            "",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestSchemaJSON(t *testing.T) {
	b, err := SchemaJSON()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "object", m["type"])
	props, ok := m["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "participants")
	assert.Contains(t, props, "max_rounds")
}

func TestLoad_WithDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.html"), []byte(`<html><head><style>p{}</style></head>
<body><h1>Traffic</h1><p>Cars   take
space.</p><script>alert(1)</script><ul><li>Bikes</li><li>Trams</li></ul></body></html>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenario.yaml"), []byte(`
mode: two-party
prompt: Ban cars?
max_rounds: 4
document: notes.html
participants:
  - model: a
  - model: b
`), 0o644))

	s, err := Load(filepath.Join(dir, "scenario.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Traffic\nCars take space.\nBikes\nTrams", s.DocumentText())

	b, err := engine.NewContextBuilder(s.BuilderOptions(engine.DefaultOptions())...)
	require.NoError(t, err)
	req, err := b.Build(s.Config(), s.DialogueParticipants(), s.DialogueParticipants()[0], []dialogue.Turn{
		{RoundIndex: 0, ParticipantID: dialogue.ModeratorID, Content: "Ban cars?"},
	})
	require.NoError(t, err)
	assert.Contains(t, req.Messages[0].Content, "Cars take space.")
	assert.Equal(t, 0.7, req.Options.Temperature)
}

func TestLoad_MissingDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.yaml"), []byte(
		"mode: two-party\nprompt: x\nmax_rounds: 2\ndocument: gone.md\nparticipants: [{model: a}, {model: b}]\n"), 0o644))
	_, err := Load(filepath.Join(dir, "s.yaml"))
	require.Error(t, err)
}

func TestBuilderOptions_Overrides(t *testing.T) {
	s, err := Parse([]byte(discussion))
	require.NoError(t, err)
	s.SetDocumentText("plain notes")

	b, err := engine.NewContextBuilder(s.BuilderOptions(engine.DefaultOptions())...)
	require.NoError(t, err)
	req, err := b.Build(s.Config(), s.DialogueParticipants(), s.DialogueParticipants()[0], []dialogue.Turn{
		{RoundIndex: 0, ParticipantID: dialogue.ModeratorID, Content: "Should cities ban cars?"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.2, req.Options.Temperature)
	assert.Equal(t, 4096, req.Options.NumCtx)
	assert.Contains(t, req.Messages[0].Content, "plain notes")
}

func TestLoadDocument_Text(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(p, []byte("\n# Notes\n\nsome text\n"), 0o644))
	text, err := LoadDocument(p)
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\nsome text", text)
}
