// Package factory resolves an AgentConfig's Provider string into a live
// model.ChatModel and wraps it for the engine's injection points
// (Engine.SetAgentFactory, Engine.RegisterPlanner, Engine.SetRubricEngine).
// It is the one package in the tree that imports every provider adapter
// alongside workflow and workflow/rubric, mirroring the teacher's own
// examples/llm/main.go, which is the only place the teacher repo imports
// more than one provider subpackage at once.
package factory

import (
	"fmt"

	"github.com/flowmesh/orchestrator/workflow"
	"github.com/flowmesh/orchestrator/workflow/model"
	"github.com/flowmesh/orchestrator/workflow/model/anthropic"
	"github.com/flowmesh/orchestrator/workflow/model/google"
	"github.com/flowmesh/orchestrator/workflow/model/openai"
	"github.com/flowmesh/orchestrator/workflow/rubric"
)

// NewChatModel builds the provider named by cfg.Provider ("anthropic",
// "openai", "google", or "mock"), passing cfg.Model through as the model
// name. "mock" ignores Model and returns a MockChatModel seeded from
// cfg.Config["responses"], for workflows that want to exercise the full
// agent/planner/judge bridge without live credentials.
func NewChatModel(cfg workflow.AgentConfig) (model.ChatModel, error) {
	apiKey, _ := cfg.Config["apiKey"].(string)

	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewChatModel(apiKey, cfg.Model), nil
	case "openai":
		return openai.NewChatModel(apiKey, cfg.Model), nil
	case "google":
		return google.NewChatModel(apiKey, cfg.Model), nil
	case "mock":
		return newMockFromConfig(cfg.Config), nil
	default:
		return nil, fmt.Errorf("factory: unknown provider %q", cfg.Provider)
	}
}

func newMockFromConfig(cfg map[string]interface{}) *model.MockChatModel {
	m := &model.MockChatModel{}
	texts, _ := cfg["responses"].([]string)
	for _, t := range texts {
		m.Responses = append(m.Responses, model.ChatOut{Text: t})
	}
	return m
}

// AgentFactory builds a model-backed workflow.Agent for AgentConfig
// auto-registration (workflow/executor.go's agentFactory, set via
// Engine.SetAgentFactory). Wire it once per Engine:
//
//	engine.SetAgentFactory(factory.AgentFactory)
func AgentFactory(cfg workflow.AgentConfig) (workflow.Agent, error) {
	cm, err := NewChatModel(cfg)
	if err != nil {
		return nil, err
	}
	return model.NewChatAgent(cm), nil
}

// PlannerFactory builds a model-backed workflow.Planner for a Standard
// node's DYNAMIC planning mode, for registration via Engine.RegisterPlanner.
func PlannerFactory(cfg workflow.AgentConfig) (workflow.Planner, error) {
	cm, err := NewChatModel(cfg)
	if err != nil {
		return nil, err
	}
	return model.NewChatPlanner(cm), nil
}

// JudgeFactory builds a model-backed rubric.JudgeEngine for
// Engine.SetRubricEngine, using cfg to resolve the judge model and defs as
// the rubric definitions it scores against.
func JudgeFactory(cfg workflow.AgentConfig, defs []rubric.Definition) (*rubric.JudgeEngine, error) {
	cm, err := NewChatModel(cfg)
	if err != nil {
		return nil, err
	}
	return rubric.NewJudgeEngine(cm, defs), nil
}
