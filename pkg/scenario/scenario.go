// Package scenario loads dialogue definitions from YAML files.
//
// A scenario names the protocol, the prompt, the seats and optionally a
// background document:
//
//	mode: multi-party
//	kind: discussion
//	prompt: Should cities ban cars?
//	max_rounds: 8
//	document: notes/traffic.md
//	participants:
//	  - model: llama3
//	    persona: INTJ
//	  - model: mistral
//	    source: kiklop
//	  - kind: human
//
// Files are validated against a JSON schema generated from the Go types
// before they are decoded.
package scenario

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

var ErrInvalidScenario = errors.New("invalid scenario")

type Scenario struct {
	Title     string        `yaml:"title,omitempty" json:"title,omitempty" jsonschema:"description=Short title used for listings and file names"`
	Mode      dialogue.Mode `yaml:"mode" json:"mode" jsonschema:"enum=two-party,enum=multi-party"`
	Kind      dialogue.Kind `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=debate,enum=discussion"`
	Prompt    string        `yaml:"prompt" json:"prompt" jsonschema:"minLength=1,description=Moderator prompt opening the dialogue"`
	MaxRounds int           `yaml:"max_rounds" json:"max_rounds" jsonschema:"minimum=1"`
	// Document is a txt, md or html file, relative to the scenario file.
	Document     string        `yaml:"document,omitempty" json:"document,omitempty" jsonschema:"description=Background material attached to the opening message"`
	Participants []Participant `yaml:"participants" json:"participants" jsonschema:"minItems=2,maxItems=5"`
	Options      *Options      `yaml:"options,omitempty" json:"options,omitempty"`

	// documentText is filled by Load.
	documentText string
}

type Participant struct {
	Kind    dialogue.ActorKind `yaml:"kind,omitempty" json:"kind,omitempty" jsonschema:"enum=ai,enum=human"`
	Model   string             `yaml:"model,omitempty" json:"model,omitempty"`
	Persona string             `yaml:"persona,omitempty" json:"persona,omitempty"`
	Source  string             `yaml:"source,omitempty" json:"source,omitempty"`
	Name    string             `yaml:"name,omitempty" json:"name,omitempty"`
}

type Options struct {
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	NumCtx      *int     `yaml:"num_ctx,omitempty" json:"num_ctx,omitempty" jsonschema:"minimum=256"`
}

// Schema returns the JSON schema of scenario files.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	s := r.Reflect(&Scenario{})
	s.Version = "http://json-schema.org/draft-07/schema#"
	s.Title = "symposium scenario"
	return s
}

// SchemaJSON returns the indented JSON encoding of Schema.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}

// Validate checks a decoded YAML or JSON document against the schema.
func Validate(doc interface{}) error {
	schema, err := json.Marshal(Schema())
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.Wrap(err, "could not validate scenario")
	}
	if result.Valid() {
		return nil
	}

	descriptions := []string{}
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	var b bytes.Buffer
	if err := errorTemplate.Execute(&b, descriptions); err != nil {
		return err
	}
	return errors.Wrap(ErrInvalidScenario, b.String())
}

var errorTemplate = template.Must(template.New("errors").Parse(
	`{{ range $i, $e := . }}{{ if $i }}; {{ end }}{{ $e }}{{ end }}`))

// Parse validates and decodes a scenario. The document, if any, is not read.
func Parse(b []byte) (*Scenario, error) {
	var doc interface{}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(ErrInvalidScenario, err.Error())
	}
	if doc == nil {
		return nil, errors.Wrap(ErrInvalidScenario, "empty document")
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}

	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(ErrInvalidScenario, err.Error())
	}
	return &s, nil
}

// Load reads a scenario file and the document it references.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "could not load %s", path)
	}
	if s.Document != "" {
		p := s.Document
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		text, err := LoadDocument(p)
		if err != nil {
			return nil, err
		}
		s.documentText = text
	}
	return s, nil
}

// SetDocumentText replaces the background material.
func (s *Scenario) SetDocumentText(text string) {
	s.documentText = text
}

func (s *Scenario) DocumentText() string {
	return s.documentText
}

func (s *Scenario) Config() dialogue.Config {
	return dialogue.Config{
		Mode:          s.Mode,
		Kind:          s.Kind,
		InitialPrompt: strings.TrimSpace(s.Prompt),
		MaxRounds:     s.MaxRounds,
		Topic:         s.Title,
	}.Normalize()
}

func (s *Scenario) DialogueParticipants() []dialogue.Participant {
	ret := make([]dialogue.Participant, 0, len(s.Participants))
	for i, p := range s.Participants {
		kind := p.Kind
		if kind == "" {
			kind = dialogue.ActorAI
		}
		ret = append(ret, dialogue.Participant{
			ID:      i + 1,
			Kind:    kind,
			ModelID: p.Model,
			Persona: p.Persona,
			Source:  p.Source,
			Name:    p.Name,
		})
	}
	return ret
}

// BuilderOptions returns the context builder options of the scenario,
// starting from base generation options.
func (s *Scenario) BuilderOptions(base engine.Options) []engine.BuilderOption {
	opts := base
	if s.Options != nil {
		if s.Options.Temperature != nil {
			opts.Temperature = *s.Options.Temperature
		}
		if s.Options.NumCtx != nil {
			opts.NumCtx = *s.Options.NumCtx
		}
	}
	ret := []engine.BuilderOption{engine.WithOptions(opts)}
	if s.documentText != "" {
		ret = append(ret, engine.WithDocument(s.documentText))
	}
	return ret
}
