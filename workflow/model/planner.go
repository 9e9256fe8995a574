package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmesh/orchestrator/workflow"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ChatPlanner adapts a ChatModel into workflow.Planner for a Standard
// node's DYNAMIC planning mode (spec.md §4.6): it prompts the model for an
// ordered tool-call plan and parses the JSON array it returns, tolerating
// prose or a markdown fence around the array the same way
// rubric.JudgeEngine tolerates prose around its verdict JSON.
type ChatPlanner struct {
	Model ChatModel
}

// NewChatPlanner wraps m as a workflow.Planner.
func NewChatPlanner(m ChatModel) *ChatPlanner {
	return &ChatPlanner{Model: m}
}

const planSystemPrompt = `Respond with a JSON array of tool calls only, no prose, no markdown fence:
[{"tool": "name", "args": {...}, "description": "..."}]`

// CreatePlan implements workflow.Planner.
func (p *ChatPlanner) CreatePlan(ctx context.Context, prompt string, tools []workflow.ToolSpec) (*workflow.Plan, error) {
	out, err := p.Model.Chat(ctx, []Message{
		{Role: RoleSystem, Content: planSystemPrompt},
		{Role: RoleUser, Content: prompt},
	}, toModelTools(tools))
	if err != nil {
		return nil, fmt.Errorf("model: planner chat failed: %w", err)
	}
	steps, err := parsePlanSteps(out.Text)
	if err != nil {
		return nil, err
	}
	return &workflow.Plan{ID: uuid.NewString(), Steps: steps, Status: workflow.PlanCreated}, nil
}

// RevisePlan implements workflow.Planner, asking the model to produce a
// fresh step list given the failure that ended the previous attempt.
func (p *ChatPlanner) RevisePlan(ctx context.Context, plan *workflow.Plan, failedStep workflow.PlanStep, reason string) (*workflow.Plan, error) {
	prompt := fmt.Sprintf("Step %q failed: %s. Produce a revised plan that avoids the failure.", failedStep.ToolName, reason)
	out, err := p.Model.Chat(ctx, []Message{
		{Role: RoleSystem, Content: planSystemPrompt},
		{Role: RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("model: replan chat failed: %w", err)
	}
	steps, err := parsePlanSteps(out.Text)
	if err != nil {
		return nil, err
	}
	revised := *plan
	revised.Steps = steps
	return &revised, nil
}

func toModelTools(tools []workflow.ToolSpec) []ToolSpec {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ToolSpec, len(tools))
	for i, t := range tools {
		out[i] = ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema}
	}
	return out
}

// parsePlanSteps extracts the substring spanning the first '[' to the last
// ']' in raw and decodes it as a tool-call array.
func parsePlanSteps(raw string) ([]workflow.PlanStep, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("model: planner response had no JSON array")
	}

	var steps []workflow.PlanStep
	gjson.Parse(raw[start : end+1]).ForEach(func(_, v gjson.Result) bool {
		args, _ := v.Get("args").Value().(map[string]interface{})
		steps = append(steps, workflow.PlanStep{
			ID:       uuid.NewString(),
			ToolName: v.Get("tool").String(),
			Args:     args,
			Status:   workflow.StepPending,
		})
		return true
	})
	if len(steps) == 0 {
		return nil, fmt.Errorf("model: planner produced zero steps")
	}
	return steps, nil
}
