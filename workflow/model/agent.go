package model

import (
	"context"
	"fmt"

	"github.com/flowmesh/orchestrator/workflow"
)

// ChatAgent adapts a ChatModel into the engine's workflow.Agent contract
// (workflow/registry.go), turning a Standard node's resolved prompt into a
// single user turn and the model's ChatOut back into an AgentResponse
// (spec.md §6). This is the bridge workflow/dispatch.go's agent.Execute
// call actually exercises; AgentConfig auto-registration wires one of
// these per agent via workflow/model/factory.AgentFactory.
type ChatAgent struct {
	Model        ChatModel
	Tools        []ToolSpec
	SystemPrompt string
}

// NewChatAgent wraps m with no system prompt or tools.
func NewChatAgent(m ChatModel) *ChatAgent {
	return &ChatAgent{Model: m}
}

// Execute implements workflow.Agent.
func (a *ChatAgent) Execute(ctx context.Context, prompt string, _ map[string]interface{}) (workflow.AgentResponse, error) {
	var messages []Message
	if a.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: a.SystemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	out, err := a.Model.Chat(ctx, messages, a.Tools)
	if err != nil {
		return workflow.AgentResponse{}, fmt.Errorf("model: chat call failed: %w", err)
	}

	if len(out.ToolCalls) > 0 {
		call := out.ToolCalls[0]
		return workflow.AgentResponse{Kind: workflow.AgentToolRequest, ToolName: call.Name, ToolArgs: call.Input}, nil
	}
	return workflow.AgentResponse{Kind: workflow.AgentText, Text: out.Text}, nil
}
