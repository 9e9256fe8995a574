// Package model provides the ChatModel abstraction the orchestrator's
// agent and judge adapters are built on (workflow.Agent, rubric.JudgeEngine),
// plus the concrete provider adapters in its anthropic/openai/google
// subpackages.
package model

import "context"

// ChatModel is the common surface every LLM provider adapter implements.
// workflow/model/agent.go adapts it into a workflow.Agent for Standard-node
// dispatch, workflow/model/planner.go into a workflow.Planner for DYNAMIC
// planning, and workflow/rubric.JudgeEngine uses it directly as a judge.
type ChatModel interface {
	// Chat sends messages and optional tool specs to the model and returns
	// its response. tools is nil when the caller has nothing to offer.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation sent to a ChatModel.
type Message struct {
	Role    string
	Content string
}

// Standard Message.Role values.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes one tool a ChatModel may choose to call, in JSON
// Schema form.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a ChatModel's response: text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation a ChatModel requested.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
