package session

import (
	"encoding/json"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
	RoleDeveloper = "developer"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Summary renders the call as name(args-json), the form kept in history.
func (c ToolCall) Summary() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	args, err := json.Marshal(c.Args)
	if err != nil {
		return c.Name
	}
	return c.Name + "(" + string(args) + ")"
}

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "tool", "system", "developer"
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a role "tool" message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is the name of the tool that produced a role "tool" message.
	ToolName string `json:"tool_name,omitempty"`
	// IsError marks a tool result that reports a failure.
	IsError bool `json:"is_error,omitempty"`
}

// IsToolResult reports whether m carries the output of a tool call.
func (m Message) IsToolResult() bool {
	return m.Role == RoleTool && m.ToolCallID != ""
}

// HasText reports whether m carries non-blank text content.
func (m Message) HasText() bool {
	return strings.TrimSpace(m.Content) != ""
}
