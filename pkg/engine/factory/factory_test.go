package factory

import (
	"context"
	"testing"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/engine/echo"
	"github.com/go-go-golems/symposium/pkg/engine/openai"
	"github.com/go-go-golems/symposium/pkg/settings"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() *settings.Settings {
	s := settings.Default()
	s.Sources = append(s.Sources, settings.Source{Name: "offline", Provider: settings.ProviderEcho})
	return s
}

func TestStandardInvokerFactory_SupportedProviders(t *testing.T) {
	f := NewStandardInvokerFactory(nil)
	providers := f.SupportedProviders()
	assert.Contains(t, providers, "ollama")
	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "echo")
}

func TestStandardInvokerFactory_BySource(t *testing.T) {
	f := NewStandardInvokerFactory(testSettings())

	inv, err := f.ForParticipant(dialogue.Participant{ID: 1, Kind: dialogue.ActorAI, ModelID: "m", Source: "offline"})
	require.NoError(t, err)
	assert.IsType(t, &echo.Invoker{}, inv)

	inv, err = f.ForSource("kiklop")
	require.NoError(t, err)
	assert.IsType(t, &openai.Invoker{}, inv)
}

func TestStandardInvokerFactory_CachesPerSource(t *testing.T) {
	calls := 0
	f := NewStandardInvokerFactory(testSettings(),
		WithConstructor(settings.ProviderEcho, func(settings.Source) (engine.Invoker, error) {
			calls++
			return echo.NewInvoker(), nil
		}))

	for i := 0; i < 3; i++ {
		_, err := f.ForSource("OFFLINE")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

func TestStandardInvokerFactory_DefaultSource(t *testing.T) {
	s := testSettings()
	s.DefaultSource = "offline"
	f := NewStandardInvokerFactory(s)

	inv, err := f.ForParticipant(dialogue.Participant{ID: 2, Kind: dialogue.ActorAI, ModelID: "m"})
	require.NoError(t, err)
	out, err := inv.InvokeModel(context.Background(), engine.Request{ModelID: "m"})
	require.NoError(t, err)
	assert.Contains(t, out, "m replies")
}

func TestStandardInvokerFactory_Errors(t *testing.T) {
	f := NewStandardInvokerFactory(testSettings())

	_, err := f.ForSource("nowhere")
	require.True(t, errors.Is(err, settings.ErrUnknownSource))

	_, err = f.ForParticipant(dialogue.Participant{ID: 3, Kind: dialogue.ActorHuman})
	require.Error(t, err)

	f = NewStandardInvokerFactory(testSettings(),
		WithConstructor(settings.ProviderEcho, func(settings.Source) (engine.Invoker, error) {
			return nil, errors.New("boom")
		}))
	_, err = f.ForSource("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
}
