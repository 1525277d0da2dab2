// Package openai invokes models on any host speaking the OpenAI chat
// completions protocol, such as a second ollama instance behind /v1.
package openai

import (
	"context"
	"strings"

	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// CompletionClient is the subset of the go-openai client the invoker needs.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (go_openai.ModelsList, error)
}

type Invoker struct {
	client CompletionClient
}

var _ engine.Invoker = (*Invoker)(nil)
var _ engine.ModelLister = (*Invoker)(nil)

func NewInvoker(client CompletionClient) *Invoker {
	return &Invoker{client: client}
}

// MakeClient creates a go-openai client for baseURL. Local hosts accept any key.
func MakeClient(baseURL, apiKey string) (*go_openai.Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("openai-compatible source needs a base url")
	}
	if apiKey == "" {
		apiKey = "none"
	}
	config := go_openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL, "/")
	return go_openai.NewClientWithConfig(config), nil
}

func (i *Invoker) InvokeModel(ctx context.Context, req engine.Request) (string, error) {
	messages := []go_openai.ChatCompletionMessage{}
	for _, m := range req.ChatMessages() {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	log.Debug().
		Str("session_id", engine.SessionIDFromContext(ctx)).
		Str("model", req.ModelID).
		Int("participant", req.ParticipantID).
		Int("messages", len(messages)).
		Msg("calling openai-compatible host")

	resp, err := i.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model:       req.ModelID,
		Messages:    messages,
		Temperature: float32(req.Options.Temperature),
	})
	if err != nil {
		return "", errors.Wrapf(err, "chat completion with %s failed", req.ModelID)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("chat completion with %s returned no choices", req.ModelID)
	}
	return resp.Choices[0].Message.Content, nil
}

func (i *Invoker) ListModels(ctx context.Context) ([]string, error) {
	resp, err := i.client.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list models")
	}
	ret := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		ret = append(ret, m.ID)
	}
	return ret, nil
}
