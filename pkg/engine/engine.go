// Package engine is the boundary between a dialogue session and the models
// that produce its turns.
//
// A session never talks to a model host directly. It builds a Request with a
// ContextBuilder and hands it to an Invoker, which is called at most once per
// turn and is never retried. Invokers for the supported hosts live in the
// ollama, openai and echo subpackages, and a Factory picks one per
// participant source.
package engine

import (
	"context"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to a model.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Options are the generation options passed through to the model host.
type Options struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	NumCtx      int     `json:"num_ctx" yaml:"num_ctx"`
}

// DefaultOptions are the generation options used when settings leave them unset.
func DefaultOptions() Options {
	return Options{Temperature: 0.7, NumCtx: 4096}
}

// Request is everything a model needs to produce one turn.
type Request struct {
	SessionID     string    `json:"session_id,omitempty"`
	ParticipantID int       `json:"participant_id"`
	Source        string    `json:"source,omitempty"`
	ModelID       string    `json:"model"`
	Persona       string    `json:"persona,omitempty"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Messages      []Message `json:"messages"`
	Options       Options   `json:"options"`
}

// ChatMessages returns the system prompt followed by the request messages.
func (r Request) ChatMessages() []Message {
	ret := make([]Message, 0, len(r.Messages)+1)
	if r.SystemPrompt != "" {
		ret = append(ret, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	return append(ret, r.Messages...)
}

// Invoker produces the content of one turn.
type Invoker interface {
	InvokeModel(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

func (f InvokerFunc) InvokeModel(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ModelLister is implemented by invokers that can enumerate the models of their host.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}
