// Package domain defines the shared records threaded through an orchestration run.
package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by a worker.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is one entry of the append-only conversation log.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Name       string     `json:"name,omitempty"` // worker that produced it
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func UserMessage(content string) Message {
	return newMessage(RoleUser, content)
}

func SystemMessage(content string) Message {
	return newMessage(RoleSystem, content)
}

// AssistantMessage creates a message authored by the named worker.
func AssistantMessage(worker, content string) Message {
	m := newMessage(RoleAssistant, content)
	m.Name = worker
	return m
}

// ToolMessage carries a tool result back to the worker that asked for it.
func ToolMessage(callID, toolName, content string) Message {
	m := newMessage(RoleTool, content)
	m.ToolCallID = callID
	m.Name = toolName
	return m
}

func (m Message) IsSystem() bool { return m.Role == RoleSystem }

// Size returns the character count used for context budgeting.
func (m Message) Size() int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name)
		for k, v := range tc.Args {
			n += len(k)
			if s, ok := v.(string); ok {
				n += len(s)
			}
		}
	}
	return n
}
