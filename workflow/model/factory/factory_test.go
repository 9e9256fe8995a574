package factory_test

import (
	"context"
	"testing"

	"github.com/flowmesh/orchestrator/workflow"
	"github.com/flowmesh/orchestrator/workflow/model/factory"
	"github.com/flowmesh/orchestrator/workflow/rubric"
)

func TestAgentFactoryMockProvider(t *testing.T) {
	cfg := workflow.AgentConfig{
		AgentID:  "reviewer",
		Provider: "mock",
		Config: map[string]interface{}{
			"responses": []string{"looks good"},
		},
	}

	agent, err := factory.AgentFactory(cfg)
	if err != nil {
		t.Fatalf("AgentFactory: %v", err)
	}

	resp, err := agent.Execute(context.Background(), "review this diff", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Kind != workflow.AgentText || resp.Text != "looks good" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAgentFactoryUnknownProvider(t *testing.T) {
	_, err := factory.AgentFactory(workflow.AgentConfig{Provider: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestJudgeFactoryMockProvider(t *testing.T) {
	cfg := workflow.AgentConfig{
		Provider: "mock",
		Config: map[string]interface{}{
			"responses": []string{`{"score": 90, "feedback": "solid"}`},
		},
	}
	defs := []rubric.Definition{{ID: "quality", PassThreshold: 80}}

	engine, err := factory.JudgeFactory(cfg, defs)
	if err != nil {
		t.Fatalf("JudgeFactory: %v", err)
	}

	eval, err := engine.Evaluate(context.Background(), "quality", map[string]interface{}{"text": "draft"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !eval.Passed || eval.Score != 90 {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestPlannerFactoryMockProvider(t *testing.T) {
	cfg := workflow.AgentConfig{
		Provider: "mock",
		Config: map[string]interface{}{
			"responses": []string{`[{"tool": "search", "args": {"q": "docs"}}]`},
		},
	}

	planner, err := factory.PlannerFactory(cfg)
	if err != nil {
		t.Fatalf("PlannerFactory: %v", err)
	}

	plan, err := planner.CreatePlan(context.Background(), "find the docs", nil)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].ToolName != "search" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}
