package engine

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/participants"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

const defaultOpeningTemplate = `The topic of this {{ .Kind }} is: {{ .Topic }}
{{- if .Document }}

Background material:
{{ .Document }}
{{- end }}

What is your position?`

const defaultTurnTemplate = `It is your turn, {{ .Speaker }}.{{ if .Persona }} Answer in keeping with your personality ({{ .Persona | splitList " - " | first }}).{{ end }} Be brief and concrete.`

// PromptData is what the opening and turn templates are rendered with.
type PromptData struct {
	Kind     dialogue.Kind
	Mode     dialogue.Mode
	Topic    string
	Document string
	Speaker  string
	Persona  string
	Round    int
}

// ContextBuilder turns a transcript into the Request for the next turn.
//
// The moderator's opening is sent as a user message rendered through the
// opening template. The acting participant's own earlier turns are sent as
// assistant messages, everyone else's as user messages prefixed with their
// name. Failed turns are left out. A final user message tells the
// participant that it is its turn.
type ContextBuilder struct {
	catalog     *participants.Catalog
	opening     *template.Template
	turn        *template.Template
	options     Options
	tokenBudget int
	codec       tokenizer.Codec
	document    string
}

type BuilderOption func(*ContextBuilder) error

func WithCatalog(c *participants.Catalog) BuilderOption {
	return func(b *ContextBuilder) error {
		b.catalog = c
		return nil
	}
}

func WithOptions(o Options) BuilderOption {
	return func(b *ContextBuilder) error {
		b.options = o
		return nil
	}
}

// WithTokenBudget trims the oldest messages so that a request fits in n
// cl100k tokens. The opening message is always kept. 0 disables trimming.
func WithTokenBudget(n int) BuilderOption {
	return func(b *ContextBuilder) error {
		b.tokenBudget = n
		if n <= 0 {
			b.codec = nil
			return nil
		}
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return errors.Wrap(err, "could not load tokenizer")
		}
		b.codec = codec
		return nil
	}
}

// WithDocument attaches background material to the opening message.
func WithDocument(text string) BuilderOption {
	return func(b *ContextBuilder) error {
		b.document = strings.TrimSpace(text)
		return nil
	}
}

// WithTemplates overrides the opening and turn templates. Empty strings keep the defaults.
func WithTemplates(opening, turn string) BuilderOption {
	return func(b *ContextBuilder) error {
		var err error
		if opening != "" {
			if b.opening, err = parsePromptTemplate("opening", opening); err != nil {
				return err
			}
		}
		if turn != "" {
			if b.turn, err = parsePromptTemplate("turn", turn); err != nil {
				return err
			}
		}
		return nil
	}
}

func NewContextBuilder(options ...BuilderOption) (*ContextBuilder, error) {
	b := &ContextBuilder{options: DefaultOptions()}
	var err error
	if b.opening, err = parsePromptTemplate("opening", defaultOpeningTemplate); err != nil {
		return nil, err
	}
	if b.turn, err = parsePromptTemplate("turn", defaultTurnTemplate); err != nil {
		return nil, err
	}
	for _, o := range options {
		if err := o(b); err != nil {
			return nil, err
		}
	}
	if b.catalog == nil {
		if b.catalog, err = participants.DefaultCatalog(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func parsePromptTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %s template", name)
	}
	return t, nil
}

// Build returns the request for speaker given the transcript so far.
func (b *ContextBuilder) Build(
	cfg dialogue.Config,
	roster []dialogue.Participant,
	speaker dialogue.Participant,
	history []dialogue.Turn,
) (Request, error) {
	cfg = cfg.Normalize()

	withHuman := false
	for _, p := range roster {
		if p.IsHuman() {
			withHuman = true
		}
	}
	system, err := b.catalog.SystemPrompt(speaker.Persona, participants.PromptContext{
		Mode:      cfg.Mode,
		Kind:      cfg.Kind,
		Others:    len(roster) - 1,
		WithHuman: withHuman,
	})
	if err != nil {
		return Request{}, err
	}

	data := PromptData{
		Kind:     cfg.Kind,
		Mode:     cfg.Mode,
		Topic:    cfg.InitialPrompt,
		Document: b.document,
		Speaker:  speaker.DisplayName(),
		Persona:  speaker.Persona,
	}

	var messages []Message
	openingSeen := false
	for _, t := range history {
		if t.Failed {
			continue
		}
		data.Round = t.RoundIndex
		switch {
		case t.IsModerator() && !openingSeen:
			openingSeen = true
			content, err := render(b.opening, data)
			if err != nil {
				return Request{}, err
			}
			messages = append(messages, Message{Role: RoleUser, Content: content})
		case t.IsModerator():
			messages = append(messages, Message{Role: RoleUser, Content: "MODERATOR: " + t.Content})
		case t.ParticipantID == speaker.ID:
			messages = append(messages, Message{Role: RoleAssistant, Content: t.Content})
		default:
			messages = append(messages, Message{Role: RoleUser, Content: speakerLabel(t) + ": " + t.Content})
		}
	}

	// only the opening so far: the opening message already asks for a position
	if len(messages) > 1 || !openingSeen {
		instruction, err := render(b.turn, data)
		if err != nil {
			return Request{}, err
		}
		messages = append(messages, Message{Role: RoleUser, Content: instruction})
	}

	req := Request{
		ParticipantID: speaker.ID,
		Source:        speaker.Source,
		ModelID:       speaker.ModelID,
		Persona:       speaker.Persona,
		SystemPrompt:  system,
		Messages:      messages,
		Options:       b.options,
	}
	if b.codec != nil {
		req.Messages = b.trim(req.SystemPrompt, req.Messages)
	}
	return req, nil
}

func speakerLabel(t dialogue.Turn) string {
	name := t.DisplayName
	if name == "" {
		name = "Participant"
	}
	if t.Persona != "" {
		code, _, _ := strings.Cut(t.Persona, " - ")
		return name + " (" + strings.TrimSpace(code) + ")"
	}
	return name
}

func render(t *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "could not render %s template", t.Name())
	}
	return strings.TrimSpace(buf.String()), nil
}

// CountTokens returns the cl100k token count of s, or 0 when no budget is configured.
func (b *ContextBuilder) CountTokens(s string) int {
	if b.codec == nil {
		return 0
	}
	ids, _, err := b.codec.Encode(s)
	if err != nil {
		return len(s) / 4
	}
	return len(ids)
}

// trim drops messages after the first one, oldest first, until the system
// prompt and the remaining messages fit in the token budget. The first and
// the last message are never dropped.
func (b *ContextBuilder) trim(system string, messages []Message) []Message {
	counts := make([]int, len(messages))
	total := b.CountTokens(system)
	for i, m := range messages {
		counts[i] = b.CountTokens(m.Content)
		total += counts[i]
	}
	if total <= b.tokenBudget || len(messages) <= 2 {
		return messages
	}

	drop := 0
	for i := 1; i < len(messages)-1 && total > b.tokenBudget; i++ {
		total -= counts[i]
		drop++
	}
	log.Debug().
		Int("budget", b.tokenBudget).
		Int("dropped", drop).
		Int("tokens", total).
		Msg("trimmed dialogue context")

	ret := make([]Message, 0, len(messages)-drop)
	ret = append(ret, messages[0])
	return append(ret, messages[1+drop:]...)
}
