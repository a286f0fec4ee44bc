// Package testutil provides common test helpers and utilities.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/tool"
	"github.com/joss/codecrew/pkg/llm"
)

// WriteFile creates a file with the given content in the specified directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadFile reads the content of a file.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

// SetEnv sets an environment variable for the duration of the test.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

// MockInvoker replays scripted responses. Scripts queued per role are
// consumed first; the shared queue serves everything else.
type MockInvoker struct {
	mu       sync.Mutex
	byRole   map[string][]*llm.Response
	shared   []*llm.Response
	requests []*llm.Request
	err      error
}

func NewMockInvoker(responses ...*llm.Response) *MockInvoker {
	return &MockInvoker{byRole: map[string][]*llm.Response{}, shared: responses}
}

// For queues responses for one role.
func (m *MockInvoker) For(role string, responses ...*llm.Response) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRole[role] = append(m.byRole[role], responses...)
	return m
}

// FailWith makes every later call return err.
func (m *MockInvoker) FailWith(err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockInvoker) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *req
	cp.Messages = append([]domain.Message(nil), req.Messages...)
	m.requests = append(m.requests, &cp)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	if q := m.byRole[req.Role]; len(q) > 0 {
		m.byRole[req.Role] = q[1:]
		return stamp(q[0], req.Role), nil
	}
	if len(m.shared) > 0 {
		r := m.shared[0]
		m.shared = m.shared[1:]
		return stamp(r, req.Role), nil
	}
	return TextResponse(req.Role, "nothing scripted"), nil
}

// stamp attributes unnamed assistant messages to the calling role.
func stamp(r *llm.Response, role string) *llm.Response {
	out := &llm.Response{Usage: r.Usage}
	for _, msg := range r.Messages {
		if msg.Role == domain.RoleAssistant && msg.Name == "" {
			msg.Name = role
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

// Requests returns copies of every request seen so far.
func (m *MockInvoker) Requests() []*llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.Request(nil), m.requests...)
}

// CallCount is the number of Invoke calls.
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// RequestsFor filters Requests by role.
func (m *MockInvoker) RequestsFor(role string) []*llm.Request {
	var out []*llm.Request
	for _, r := range m.Requests() {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

var _ llm.Invoker = (*MockInvoker)(nil)

// TextResponse is a plain assistant reply with no tool calls.
func TextResponse(role, text string) *llm.Response {
	return &llm.Response{Messages: []domain.Message{domain.AssistantMessage(role, text)}}
}

// ToolCallResponse is an assistant reply requesting one tool call.
func ToolCallResponse(role, callID, name string, args map[string]any) *llm.Response {
	msg := domain.AssistantMessage(role, "")
	msg.ToolCalls = []domain.ToolCall{{ID: callID, Name: name, Args: args}}
	return &llm.Response{Messages: []domain.Message{msg}}
}

// PlanResponse is a submit_plan call carrying a plan with n tasks.
func PlanResponse(role, summary string, n int) *llm.Response {
	tasks := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, map[string]any{"id": i, "description": fmt.Sprintf("task %d", i)})
	}
	return ToolCallResponse(role, "call_plan", "submit_plan", map[string]any{
		"plan": map[string]any{"summary": summary, "tasks": tasks},
	})
}

// MockTool is a simple tool for testing.
type MockTool struct {
	ToolName   string
	ToolResult string
	Delay      time.Duration
	OnExecute  func(args map[string]any)

	mu    sync.Mutex
	calls int
}

func NewMockTool(name string) *MockTool {
	return &MockTool{ToolName: name}
}

func (m *MockTool) WithResult(result string) *MockTool {
	m.ToolResult = result
	return m
}

func (m *MockTool) WithDelay(d time.Duration) *MockTool {
	m.Delay = d
	return m
}

func (m *MockTool) WithCallback(fn func(args map[string]any)) *MockTool {
	m.OnExecute = fn
	return m
}

func (m *MockTool) Info() tool.Info {
	return tool.Info{
		Name:        m.ToolName,
		Description: "Mock tool for testing",
		Parameters: tool.JSONSchema{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
		},
	}
}

func (m *MockTool) Execute(ctx context.Context, args map[string]any) (tool.Output, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return tool.Output{}, ctx.Err()
		}
	}

	if m.OnExecute != nil {
		m.OnExecute(args)
	}

	if m.ToolResult != "" {
		return tool.Text(m.ToolResult), nil
	}

	msg, _ := args["message"].(string)
	return tool.Text(msg), nil
}

// Calls is the number of Execute calls.
func (m *MockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
