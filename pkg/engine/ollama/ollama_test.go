package ollama

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	got    *api.ChatRequest
	chunks []string
	err    error
}

func (f *fakeClient) Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	f.got = req
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		var resp api.ChatResponse
		b, _ := json.Marshal(map[string]interface{}{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": c},
		})
		if err := json.Unmarshal(b, &resp); err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeClient) List(ctx context.Context) (*api.ListResponse, error) {
	return &api.ListResponse{Models: []api.ModelResponse{{Name: "llama3:latest"}, {Name: "mistral:7b"}}}, nil
}

func TestInvokeModel(t *testing.T) {
	c := &fakeClient{chunks: []string{"Water ", "is wet."}}
	inv := NewInvoker(c)

	out, err := inv.InvokeModel(context.Background(), engine.Request{
		ModelID:      "llama3",
		SystemPrompt: "be brief",
		Messages:     []engine.Message{{Role: engine.RoleUser, Content: "Is water wet?"}},
		Options:      engine.DefaultOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, "Water is wet.", out)

	require.Equal(t, "llama3", c.got.Model)
	require.NotNil(t, c.got.Stream)
	require.False(t, *c.got.Stream)
	require.Len(t, c.got.Messages, 2)
	require.Equal(t, "system", c.got.Messages[0].Role)
	require.Equal(t, 0.7, c.got.Options["temperature"])
	require.Equal(t, 4096, c.got.Options["num_ctx"])
}

func TestInvokeModel_Error(t *testing.T) {
	inv := NewInvoker(&fakeClient{err: errors.New("connection refused")})
	_, err := inv.InvokeModel(context.Background(), engine.Request{ModelID: "llama3"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "llama3")
}

func TestListModels(t *testing.T) {
	models, err := NewInvoker(&fakeClient{}).ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"llama3:latest", "mistral:7b"}, models)
}
