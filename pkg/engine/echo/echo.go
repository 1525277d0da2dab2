// Package echo is an offline invoker that answers deterministically. It is
// used for demos and for wiring tests that must not reach a model host.
package echo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/symposium/pkg/engine"
)

type Invoker struct {
	// Delay simulates generation latency. The call still honours ctx.
	Delay time.Duration
}

var _ engine.Invoker = (*Invoker)(nil)
var _ engine.ModelLister = (*Invoker)(nil)

func NewInvoker() *Invoker {
	return &Invoker{}
}

// InvokeModel answers with the model id, the persona and the first line of
// the last message it was sent.
func (i *Invoker) InvokeModel(ctx context.Context, req engine.Request) (string, error) {
	if i.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(i.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	last := ""
	if n := len(req.Messages); n > 0 {
		last, _, _ = strings.Cut(req.Messages[n-1].Content, "\n")
	}
	who := req.ModelID
	if req.Persona != "" {
		who += " as " + req.Persona
	}
	return fmt.Sprintf("%s replies to %q", who, last), nil
}

func (i *Invoker) ListModels(context.Context) ([]string, error) {
	return []string{"echo"}, nil
}
