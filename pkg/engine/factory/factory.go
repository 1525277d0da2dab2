package factory

import (
	"strings"
	"sync"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/engine/echo"
	"github.com/go-go-golems/symposium/pkg/engine/ollama"
	"github.com/go-go-golems/symposium/pkg/engine/openai"
	"github.com/go-go-golems/symposium/pkg/settings"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// InvokerFactory resolves the invoker that serves a participant.
type InvokerFactory interface {
	// ForParticipant returns the invoker of the participant's source. The
	// default source is used when the participant names none.
	ForParticipant(p dialogue.Participant) (engine.Invoker, error)
}

// Constructor builds an invoker for one configured source.
type Constructor func(src settings.Source) (engine.Invoker, error)

// StandardInvokerFactory creates invokers from settings and caches one per source.
type StandardInvokerFactory struct {
	settings     *settings.Settings
	constructors map[settings.Provider]Constructor

	mu    sync.Mutex
	cache map[string]engine.Invoker
}

var _ InvokerFactory = (*StandardInvokerFactory)(nil)

type Option func(*StandardInvokerFactory)

// WithConstructor overrides how invokers for provider are built.
func WithConstructor(provider settings.Provider, c Constructor) Option {
	return func(f *StandardInvokerFactory) {
		f.constructors[provider] = c
	}
}

func NewStandardInvokerFactory(s *settings.Settings, options ...Option) *StandardInvokerFactory {
	if s == nil {
		s = settings.Default()
	}
	f := &StandardInvokerFactory{
		settings: s,
		constructors: map[settings.Provider]Constructor{
			settings.ProviderOllama: newOllamaInvoker,
			settings.ProviderOpenAI: newOpenAIInvoker,
			settings.ProviderEcho: func(settings.Source) (engine.Invoker, error) {
				return echo.NewInvoker(), nil
			},
		},
		cache: map[string]engine.Invoker{},
	}
	for _, o := range options {
		o(f)
	}
	return f
}

// SupportedProviders lists the providers this factory can build invokers for.
func (f *StandardInvokerFactory) SupportedProviders() []string {
	ret := []string{}
	for _, p := range []settings.Provider{settings.ProviderOllama, settings.ProviderOpenAI, settings.ProviderEcho} {
		if _, ok := f.constructors[p]; ok {
			ret = append(ret, string(p))
		}
	}
	return ret
}

func (f *StandardInvokerFactory) ForParticipant(p dialogue.Participant) (engine.Invoker, error) {
	if p.IsHuman() {
		return nil, errors.Errorf("participant %d is human and has no invoker", p.ID)
	}
	return f.ForSource(p.Source)
}

// ForSource returns the cached invoker of a source, creating it on first use.
func (f *StandardInvokerFactory) ForSource(name string) (engine.Invoker, error) {
	src, err := f.settings.Source(name)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(src.Name)

	f.mu.Lock()
	defer f.mu.Unlock()
	if inv, ok := f.cache[key]; ok {
		return inv, nil
	}
	c, ok := f.constructors[src.Provider]
	if !ok {
		return nil, errors.Errorf("unsupported provider %s. Supported providers: %s",
			src.Provider, strings.Join(f.SupportedProviders(), ", "))
	}
	inv, err := c(src)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create invoker for source %s", src.Name)
	}
	log.Debug().Str("source", src.Name).Str("provider", string(src.Provider)).Msg("created invoker")
	f.cache[key] = inv
	return inv, nil
}

// newOllamaInvoker uses OLLAMA_HOST for the default host. A source with an
// explicit base url is reached through the OpenAI-compatible /v1 endpoint
// every ollama host serves.
func newOllamaInvoker(src settings.Source) (engine.Invoker, error) {
	if src.BaseURL == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		return ollama.NewInvoker(client), nil
	}
	base := strings.TrimRight(src.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return newOpenAIInvoker(settings.Source{Name: src.Name, Provider: settings.ProviderOpenAI, BaseURL: base, APIKey: src.APIKey})
}

func newOpenAIInvoker(src settings.Source) (engine.Invoker, error) {
	client, err := openai.MakeClient(src.BaseURL, src.APIKey)
	if err != nil {
		return nil, err
	}
	return openai.NewInvoker(client), nil
}
