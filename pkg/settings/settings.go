// Package settings holds the runtime configuration of symposium: model
// sources, generation defaults, persistence and the render service.
package settings

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderEcho   Provider = "echo"
)

// Source is one model host participants can be seated on.
type Source struct {
	Name     string   `yaml:"name" json:"name" mapstructure:"name"`
	Provider Provider `yaml:"provider" json:"provider" mapstructure:"provider"`
	// BaseURL is the host address. For ollama an empty value falls back to OLLAMA_HOST.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key,omitempty" json:"-" mapstructure:"api_key"`
}

type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreYAML   StoreKind = "yaml"
	StoreSQLite StoreKind = "sqlite"
)

type StoreSettings struct {
	Kind StoreKind `yaml:"kind" json:"kind" mapstructure:"kind"`
	// Path is a directory for the yaml store and a database file for sqlite.
	Path string `yaml:"path" json:"path" mapstructure:"path"`
}

type Settings struct {
	Sources       []Source `yaml:"sources" json:"sources" mapstructure:"sources"`
	DefaultSource string   `yaml:"default_source" json:"default_source" mapstructure:"default_source"`

	Temperature float64 `yaml:"temperature" json:"temperature" mapstructure:"temperature"`
	NumCtx      int     `yaml:"num_ctx" json:"num_ctx" mapstructure:"num_ctx"`
	// TurnTimeout bounds each model call. 0 means no timeout.
	TurnTimeout time.Duration `yaml:"turn_timeout" json:"turn_timeout" mapstructure:"turn_timeout"`
	// ContextTokenBudget trims the oldest turns of a request. 0 sends the full transcript.
	ContextTokenBudget int `yaml:"context_token_budget" json:"context_token_budget" mapstructure:"context_token_budget"`

	Store     StoreSettings `yaml:"store" json:"store" mapstructure:"store"`
	RenderURL string        `yaml:"render_url,omitempty" json:"render_url,omitempty" mapstructure:"render_url"`
	// PersonasFile replaces the embedded persona catalog.
	PersonasFile string `yaml:"personas_file,omitempty" json:"personas_file,omitempty" mapstructure:"personas_file"`
}

// Default returns the settings used when nothing is configured: a local
// ollama host and a second OpenAI-compatible host on port 11435.
func Default() *Settings {
	return &Settings{
		Sources: []Source{
			{Name: "ollama", Provider: ProviderOllama},
			{Name: "kiklop", Provider: ProviderOpenAI, BaseURL: "http://localhost:11435/v1"},
		},
		DefaultSource: "ollama",
		Temperature:   0.7,
		NumCtx:        4096,
		Store:         StoreSettings{Kind: StoreYAML, Path: "saved_dialogues"},
	}
}

// Load overlays the values of v on top of Default.
func Load(v *viper.Viper) (*Settings, error) {
	s := Default()
	if v == nil {
		return s, nil
	}
	// configured sources replace the defaults instead of being merged by index
	if v.IsSet("sources") {
		s.Sources = nil
	}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var ErrUnknownSource = errors.New("unknown model source")

func (s *Settings) Validate() error {
	seen := map[string]bool{}
	for _, src := range s.Sources {
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if name == "" {
			return errors.New("model source without a name")
		}
		if seen[name] {
			return errors.Errorf("duplicate model source %q", src.Name)
		}
		seen[name] = true
		switch src.Provider {
		case ProviderOllama, ProviderOpenAI, ProviderEcho:
		default:
			return errors.Errorf("model source %q has unknown provider %q", src.Name, src.Provider)
		}
	}
	if s.DefaultSource != "" && !seen[strings.ToLower(s.DefaultSource)] {
		return errors.Wrapf(ErrUnknownSource, "default source %q", s.DefaultSource)
	}
	switch s.Store.Kind {
	case "", StoreMemory, StoreYAML, StoreSQLite:
	default:
		return errors.Errorf("unknown store kind %q", s.Store.Kind)
	}
	if s.NumCtx < 0 || s.ContextTokenBudget < 0 || s.TurnTimeout < 0 {
		return errors.New("num_ctx, context_token_budget and turn_timeout must not be negative")
	}
	return nil
}

// Source resolves a source by name. An empty name selects the default source.
func (s *Settings) Source(name string) (Source, error) {
	if strings.TrimSpace(name) == "" {
		name = s.DefaultSource
	}
	for _, src := range s.Sources {
		if strings.EqualFold(src.Name, name) {
			return src, nil
		}
	}
	return Source{}, errors.Wrapf(ErrUnknownSource, "%q", name)
}
