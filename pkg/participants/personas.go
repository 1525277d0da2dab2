package participants

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed "personas.yaml"
var personasYAML []byte

// Persona is one archetype of the catalog.
type Persona struct {
	Key    string `yaml:"key" json:"key"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Type returns the archetype code, e.g. "INTJ" for "INTJ - Architect".
func (p Persona) Type() string {
	t, _, _ := strings.Cut(p.Key, " - ")
	return strings.TrimSpace(t)
}

// Name returns the archetype name, e.g. "Architect" for "INTJ - Architect".
func (p Persona) Name() string {
	_, n, ok := strings.Cut(p.Key, " - ")
	if !ok {
		return p.Key
	}
	return strings.TrimSpace(n)
}

type catalogFile struct {
	Templates struct {
		Neutral string `yaml:"neutral"`
		Unknown string `yaml:"unknown"`
		Known   string `yaml:"known"`
	} `yaml:"templates"`
	Personas []Persona `yaml:"personas"`
}

// Catalog resolves persona labels to system prompts.
type Catalog struct {
	personas []Persona
	neutral  *template.Template
	unknown  *template.Template
	known    *template.Template
}

// PromptContext is what persona templates are rendered with.
type PromptContext struct {
	Persona   string
	Prompt    string
	Mode      dialogue.Mode
	Kind      dialogue.Kind
	Others    int
	WithHuman bool
}

// DefaultCatalog loads the embedded archetype catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(personasYAML)
}

// LoadCatalog parses a catalog in the embedded YAML layout.
func LoadCatalog(b []byte) (*Catalog, error) {
	f := &catalogFile{}
	if err := yaml.Unmarshal(b, f); err != nil {
		return nil, errors.Wrap(err, "could not parse persona catalog")
	}

	c := &Catalog{personas: f.Personas}
	var err error
	if c.neutral, err = parseTemplate("neutral", f.Templates.Neutral); err != nil {
		return nil, err
	}
	if c.unknown, err = parseTemplate("unknown", f.Templates.Unknown); err != nil {
		return nil, err
	}
	if c.known, err = parseTemplate("known", f.Templates.Known); err != nil {
		return nil, err
	}
	return c, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %s persona template", name)
	}
	return t, nil
}

// Personas returns the catalog entries in file order.
func (c *Catalog) Personas() []Persona {
	ret := make([]Persona, len(c.personas))
	copy(ret, c.personas)
	return ret
}

// Lookup matches the full key first and falls back to the archetype code, so
// "INTJ" and "INTJ - Arhitekta" both resolve to "INTJ - Architect".
func (c *Catalog) Lookup(persona string) (Persona, bool) {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return Persona{}, false
	}
	for _, p := range c.personas {
		if strings.EqualFold(p.Key, persona) {
			return p, true
		}
	}
	code, _, _ := strings.Cut(persona, " - ")
	code = strings.TrimSpace(code)
	for _, p := range c.personas {
		if strings.EqualFold(p.Type(), code) {
			return p, true
		}
	}
	return Persona{}, false
}

// SystemPrompt renders the system prompt of a seat.
func (c *Catalog) SystemPrompt(persona string, ctx PromptContext) (string, error) {
	ctx.Persona = persona
	t := c.neutral
	if strings.TrimSpace(persona) != "" {
		if p, ok := c.Lookup(persona); ok {
			ctx.Prompt = p.Prompt
			t = c.known
		} else {
			t = c.unknown
		}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", errors.Wrapf(err, "could not render system prompt for persona %q", persona)
	}
	return strings.TrimSpace(buf.String()), nil
}
