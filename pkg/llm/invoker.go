// Package llm is the boundary between workers and the language model.
package llm

import (
	"context"

	"github.com/joss/codecrew/internal/domain"
)

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one model invocation for a worker role.
type Request struct {
	Role     string
	Messages []domain.Message
	Tools    []ToolSpec
}

// Usage reports token accounting when the backend provides it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response carries the messages the model produced. Tool calls ride on
// assistant messages.
type Response struct {
	Messages []domain.Message
	Usage    Usage
}

// ToolCalls returns every tool call across the response messages.
func (r *Response) ToolCalls() []domain.ToolCall {
	var out []domain.ToolCall
	for _, m := range r.Messages {
		out = append(out, m.ToolCalls...)
	}
	return out
}

// Invoker is the only contract the runtime needs from a model client.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
