package workflow

import (
	"context"
	"sync"
)

// Agent is the contract every LLM-backed or rule-backed participant in a
// Standard node implements. Concrete adapters (Anthropic, OpenAI, Google,
// mock) live in package model and its anthropic/openai/google subpackages; workflow only depends on this interface
// so the execution engine never imports a model SDK directly.
type Agent interface {
	Execute(ctx context.Context, prompt string, context map[string]interface{}) (AgentResponse, error)
}

// AgentResponseKind tags which variant of AgentResponse is populated.
type AgentResponseKind string

const (
	AgentText         AgentResponseKind = "TEXT"
	AgentError        AgentResponseKind = "ERROR"
	AgentToolRequest   AgentResponseKind = "TOOL_REQUEST"
	AgentPlanProposal AgentResponseKind = "PLAN_PROPOSAL"
)

// AgentResponse is a tagged union over the four shapes an Agent call can
// return (spec.md §6).
type AgentResponse struct {
	Kind AgentResponseKind

	Text   string                 // AgentText
	Output map[string]interface{}

	ErrMsg string // AgentError

	ToolName string                 // AgentToolRequest
	ToolArgs map[string]interface{}

	ProposedPlan []PlanStep // AgentPlanProposal
}

// GenericHandler executes a GenericNode's named ExecutorType against the
// live context.
type GenericHandler interface {
	Handle(ctx context.Context, config map[string]interface{}, state *WorkflowState) (map[string]interface{}, error)
}

// registry holds every pluggable participant the executor dispatches to,
// keyed by ID/name. One registry is shared by all concurrent executions of
// a given Engine; all maps are guarded by mu, mirroring the teacher
// engine's own nodes/agents maps under a single RWMutex.
type registry struct {
	mu sync.RWMutex

	agents       map[string]Agent
	generics     map[string]GenericHandler
	actions      map[string]ActionHandler
	tools        map[string]ToolExecutor
	planners     map[string]Planner
	rubrics      RubricEngine
}

func newRegistry() *registry {
	return &registry{
		agents:   make(map[string]Agent),
		generics: make(map[string]GenericHandler),
		actions:  make(map[string]ActionHandler),
		tools:    make(map[string]ToolExecutor),
		planners: make(map[string]Planner),
	}
}

func (r *registry) RegisterAgent(id string, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = a
}

func (r *registry) Agent(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

func (r *registry) RegisterGeneric(executorType string, h GenericHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generics[executorType] = h
}

func (r *registry) Generic(executorType string) (GenericHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.generics[executorType]
	return h, ok
}

func (r *registry) RegisterAction(name string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = h
}

func (r *registry) ActionHandler(name string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.actions[name]
	return h, ok
}

func (r *registry) RegisterTool(name string, t ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
}

func (r *registry) Tool(name string) (ToolExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *registry) RegisterPlanner(agentID string, p Planner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planners[agentID] = p
}

func (r *registry) PlannerFor(agentID string) (Planner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.planners[agentID]
	return p, ok
}

func (r *registry) SetRubricEngine(re RubricEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rubrics = re
}

func (r *registry) RubricEngine() RubricEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rubrics
}

// autoRegisterAgents wires every AgentConfig declared on a Workflow into
// the registry via factory, skipping IDs already registered (spec.md §4.1:
// "auto-registration of agents from workflow config" does not clobber an
// agent a caller registered explicitly ahead of time).
func (r *registry) autoRegisterAgents(w *Workflow, factory func(AgentConfig) (Agent, error)) error {
	for id, cfg := range w.Agents {
		if _, exists := r.Agent(id); exists {
			continue
		}
		a, err := factory(cfg)
		if err != nil {
			return &EngineError{Message: "failed to construct agent " + id + ": " + err.Error(), Code: CodeNodeExecutorNotFound}
		}
		r.RegisterAgent(id, a)
	}
	return nil
}
