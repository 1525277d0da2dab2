// Package ollama invokes models on an Ollama host through its chat API.
package ollama

import (
	"context"
	"strings"

	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ChatClient is the subset of the ollama api client the invoker needs.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
	List(ctx context.Context) (*api.ListResponse, error)
}

type Invoker struct {
	client ChatClient
}

var _ engine.Invoker = (*Invoker)(nil)
var _ engine.ModelLister = (*Invoker)(nil)

func NewInvoker(client ChatClient) *Invoker {
	return &Invoker{client: client}
}

// NewInvokerFromEnvironment connects to the host named by OLLAMA_HOST.
func NewInvokerFromEnvironment() (*Invoker, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return NewInvoker(client), nil
}

// InvokeModel sends a non-streaming chat request and returns the assistant reply.
func (i *Invoker) InvokeModel(ctx context.Context, req engine.Request) (string, error) {
	messages := []api.Message{}
	for _, m := range req.ChatMessages() {
		messages = append(messages, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.ModelID,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": req.Options.Temperature,
			"num_ctx":     req.Options.NumCtx,
		},
	}

	log.Debug().
		Str("session_id", engine.SessionIDFromContext(ctx)).
		Str("model", req.ModelID).
		Int("participant", req.ParticipantID).
		Int("messages", len(messages)).
		Msg("calling ollama")

	var sb strings.Builder
	err := i.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "ollama chat with %s failed", req.ModelID)
	}
	return sb.String(), nil
}

// ListModels returns the names of the models installed on the host.
func (i *Invoker) ListModels(ctx context.Context) ([]string, error) {
	resp, err := i.client.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list ollama models")
	}
	ret := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		ret = append(ret, m.Name)
	}
	return ret, nil
}
