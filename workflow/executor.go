package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmesh/orchestrator/workflow/listen"
	"github.com/flowmesh/orchestrator/workflow/metrics"
	"github.com/google/uuid"
)

// SnapshotStore is the persistence contract the executor depends on for
// checkpointing and pause/resume. Concrete implementations live in package
// store; the executor never imports storage drivers directly, the same
// separation the teacher keeps between graph and graph/store.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context, tenantID, executionID string) (Snapshot, error)
}

// Engine runs workflow executions against a registry of agents, generic
// handlers, and action handlers, persisting progress through a
// SnapshotStore and reporting through a listen.Listener.
type Engine struct {
	mu sync.RWMutex

	workflows map[string]*Workflow // key: tenantID + "/" + workflowID

	registry *registry
	store    SnapshotStore
	listener listen.Listener
	metrics  *metrics.Collector
	review   ReviewHandler
	rpc      RPCSender
	templates TemplateResolver
	opts     Options
	agentFactory agentFactory

	serverNodeID string

	// active tracks in-flight executions on this process for single-owner
	// enforcement (I: one goroutine drives a given executionID at a time).
	active map[string]bool
}

// New constructs an Engine. store and listener may be nil; a nil listener
// degrades to listen.NullSink semantics (no-op), a nil store disables
// checkpointing entirely: a PENDING node still ends the call with a Paused
// result, but nothing is saved, so that execution cannot be resumed.
func New(store SnapshotStore, listener listen.Listener, collector *metrics.Collector, serverNodeID string, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		workflows: make(map[string]*Workflow),
		registry:  newRegistry(),
		store:     store,
		listener:  listener,
		metrics:   collector,
		opts:      o,
		serverNodeID: serverNodeID,
		active:    make(map[string]bool),
		agentFactory: defaultAgentFactory,
		templates: NewTemplateResolver(),
	}
}

// SetTemplateResolver overrides the default brace-placeholder resolver used
// to expand Standard/Parallel node prompts (spec.md §6).
func (e *Engine) SetTemplateResolver(r TemplateResolver) { e.templates = r }

func workflowKey(tenantID, workflowID string) string { return tenantID + "/" + workflowID }

// RegisterWorkflow loads a Workflow definition into the engine after
// validating its invariants.
func (e *Engine) RegisterWorkflow(w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[workflowKey(w.TenantID, w.WorkflowID)] = w
	return nil
}

func (e *Engine) workflow(tenantID, workflowID string) (*Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[workflowKey(tenantID, workflowID)]
	return w, ok
}

// RegisterAgent exposes the engine's agent registry for callers wiring
// agent adapters ahead of time (explicit registration takes precedence
// over AgentConfig auto-registration, see registry.autoRegisterAgents).
func (e *Engine) RegisterAgent(id string, a Agent) { e.registry.RegisterAgent(id, a) }

// RegisterGeneric exposes the generic-handler registry.
func (e *Engine) RegisterGeneric(executorType string, h GenericHandler) {
	e.registry.RegisterGeneric(executorType, h)
}

// RegisterAction exposes the action-handler registry.
func (e *Engine) RegisterAction(name string, h ActionHandler) { e.registry.RegisterAction(name, h) }

// RegisterTool exposes the tool-executor registry used by the plan engine.
func (e *Engine) RegisterTool(name string, t ToolExecutor) { e.registry.RegisterTool(name, t) }

// RegisterPlanner exposes the per-agent planner registry.
func (e *Engine) RegisterPlanner(agentID string, p Planner) { e.registry.RegisterPlanner(agentID, p) }

// SetRubricEngine wires the rubric scorer used by StandardNode/GenericNode
// evaluations.
func (e *Engine) SetRubricEngine(re RubricEngine) { e.registry.SetRubricEngine(re) }

// SetReviewHandler wires the human-review gate used by REQUIRED/OPTIONAL
// review Standard nodes.
func (e *Engine) SetReviewHandler(h ReviewHandler) { e.review = h }

// SetRPCSender wires the JSON-RPC session manager used by Send actions.
func (e *Engine) SetRPCSender(s RPCSender) { e.rpc = s }

// agentFactory is supplied by the caller — workflow/model/factory.AgentFactory
// wraps a model.ChatModel (anthropic/openai/google/mock) in a
// model.ChatAgent satisfying Agent — so the engine never imports a model SDK
// or the model package directly; used only for AgentConfig auto-registration.
type agentFactory func(AgentConfig) (Agent, error)

var defaultAgentFactory agentFactory = func(cfg AgentConfig) (Agent, error) {
	return nil, &EngineError{Message: "no agent factory configured for provider " + cfg.Provider, Code: CodeNodeExecutorNotFound}
}

// SetAgentFactory overrides how AgentConfig entries become live Agents
// during auto-registration.
func (e *Engine) SetAgentFactory(f agentFactory) { e.agentFactory = f }

// Start begins a new execution of the named workflow from its StartNode.
func (e *Engine) Start(ctx context.Context, tenantID, workflowID string, initialContext map[string]interface{}) (*ExecutionResult, error) {
	w, ok := e.workflow(tenantID, workflowID)
	if !ok {
		return nil, &EngineError{Message: "workflow not registered: " + workflowID, Code: CodeNodeMissing}
	}
	if err := e.registry.autoRegisterAgents(w, e.agentFactory); err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	state := NewWorkflowState(executionID, workflowID, w.StartNode, initialContext)
	return e.run(ctx, tenantID, w, state)
}

// Resume continues a paused execution from its persisted snapshot, merging
// resumeInput into the live context before re-entering the traversal loop
// at CurrentNode.
func (e *Engine) Resume(ctx context.Context, tenantID, executionID string, resumeInput map[string]interface{}) (*ExecutionResult, error) {
	if e.store == nil {
		return nil, &EngineError{Message: "engine has no snapshot store configured, cannot resume", Code: CodeNodeMissing}
	}
	snap, err := e.store.LoadSnapshot(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	w, ok := e.workflow(tenantID, snap.WorkflowID)
	if !ok {
		return nil, &EngineError{Message: "workflow not registered: " + snap.WorkflowID, Code: CodeNodeMissing}
	}
	state := snap.ToState()
	for k, v := range resumeInput {
		state.Context[k] = v
	}
	return e.run(ctx, tenantID, w, state)
}

// run drives the traversal loop for one execution, enforcing single-owner
// semantics per executionID and the configured MaxSteps bound.
func (e *Engine) run(ctx context.Context, tenantID string, w *Workflow, state *WorkflowState) (*ExecutionResult, error) {
	e.mu.Lock()
	if e.active[state.ExecutionID] {
		e.mu.Unlock()
		return nil, &EngineError{Message: "execution already in progress: " + state.ExecutionID, Code: CodeNoValidTransition}
	}
	e.active[state.ExecutionID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, state.ExecutionID)
		e.mu.Unlock()
	}()

	step := 0
	for {
		step++
		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return nil, &EngineError{Message: "execution exceeded MaxSteps limit", Code: CodeNoValidTransition}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		node, ok := w.Nodes[state.CurrentNode]
		if !ok {
			return nil, &EngineError{Message: "node not found: " + state.CurrentNode, Code: CodeNodeMissing, NodeID: state.CurrentNode}
		}

		if node.Kind == KindEnd {
			result := &ExecutionResult{Kind: ResultCompleted, ExecutionID: state.ExecutionID, ExitStatus: node.End.ExitStatus, Context: state.PublicContext()}
			e.checkpoint(ctx, tenantID, state, StatusCompleted, nil)
			return result, nil
		}

		e.emitNodeStart(state.ExecutionID, node)
		start := time.Now()

		state.RubricEvaluation = nil
		dispatchResult, rubricEval, activePlan := e.dispatch(ctx, tenantID, w, node, state)

		e.metrics.RecordNodeLatency(tenantID, string(node.Kind), string(dispatchResult.Status), time.Since(start))
		e.emitNodeComplete(state.ExecutionID, node, dispatchResult)

		// OutputExtraction (spec.md §4.2 post-pipeline step 1): a non-nil
		// node output is always written to context[nodeId] as a string,
		// ahead of any Standard-specific outputParams lift already folded
		// into dispatchResult's own field merges above.
		if text, ok := outputAsString(dispatchResult.Output); ok {
			state.Context[node.ID] = text
		}

		state.AppendStep(ExecutionStep{NodeID: node.ID, StateSnapshot: state.PublicContext(), Result: dispatchResult, Timestamp: time.Now()})

		if dispatchResult.Status == NodePending {
			e.checkpoint(ctx, tenantID, state, StatusPaused, activePlan)
			return &ExecutionResult{Kind: ResultPaused, ExecutionID: state.ExecutionID, PauseNodeID: node.ID, PauseReason: fmt.Sprintf("%v", dispatchResult.Metadata["reason"]), Context: state.PublicContext()}, nil
		}

		if dispatchResult.Status == NodeFailure && dispatchResult.Err != nil {
			if eerr, ok := dispatchResult.Err.(*EngineError); ok && eerr.Code == CodeOutputValidation {
				// review rejection: not retryable, surfaces as Rejected
				e.checkpoint(ctx, tenantID, state, StatusRejected, nil)
				return &ExecutionResult{Kind: ResultRejected, ExecutionID: state.ExecutionID, RejectedAt: node.ID, RejectReason: eerr.Message, Context: state.PublicContext()}, nil
			}
		}

		if target, ok := dispatchResult.Metadata["review_backtrack_to"].(string); ok && target != "" {
			state.CurrentNode = target
			continue
		}

		if rubricEval != nil && node.Kind == KindStandard && !rubricEval.Passed && !scoreRuleMatches(node, rubricEval, state.Context) {
			bt := planBacktrack(rubricEval.Score, w.StartNode,
				earliestRubricNodeIn(state.History, func(id string) bool { n, ok := w.Nodes[id]; return ok && n.Kind == KindStandard && n.Standard.RubricID != "" }),
				previousPhaseNodeIn(state.History, node.ID, func(id string) string {
					if n, ok := w.Nodes[id]; ok && n.Kind == KindStandard {
						return n.Standard.RubricID
					}
					return ""
				}, node.Standard.RubricID))
			if bt.target != "" && bt.target != node.ID {
				sev := bt.severity
				e.metrics.IncBacktrack(tenantID, string(sev))
				mergeBacktrackContext(state.Context, rubricEval, sev)
				state.AppendBacktrack(BacktrackEvent{From: node.ID, To: bt.target, Reason: bt.reason, Type: BacktrackAutomatic, RubricScore: &rubricEval.Score, Timestamp: time.Now()})
				state.CurrentNode = bt.target
				continue
			} else if bt.severity == SeverityMinor {
				e.metrics.IncBacktrack(tenantID, string(bt.severity))
				incrementRetryAttempt(state.Context)
				continue // retry current node in place
			}
		}

		if state.LoopBreakTarget != nil {
			state.CurrentNode = *state.LoopBreakTarget
			state.LoopBreakTarget = nil
			continue
		}

		next, retry, err := resolveTransition(node, dispatchResult, rubricEval, state)
		if err != nil {
			e.checkpoint(ctx, tenantID, state, StatusFailed, nil)
			return &ExecutionResult{Kind: ResultFailure, ExecutionID: state.ExecutionID, Err: err, Context: state.PublicContext()}, nil
		}
		if retry {
			continue
		}
		state.CurrentNode = next

		if step%checkpointEveryNSteps == 0 {
			e.checkpoint(ctx, tenantID, state, StatusCheckpoint, activePlan)
		}
	}
}

const checkpointEveryNSteps = 1

func (e *Engine) checkpoint(ctx context.Context, tenantID string, state *WorkflowState, status SnapshotStatus, plan *Plan) {
	if e.store == nil {
		return
	}
	snap := SnapshotFromState(tenantID, state, status, plan)
	snap.ServerNodeID = &e.serverNodeID
	snap.LastHeartbeatAt = time.Now()
	if status.IsTerminal() {
		snap.ServerNodeID = nil // I3
	}
	_ = e.store.SaveSnapshot(ctx, snap)
	if e.listener == nil {
		return
	}
	lastNode := state.CurrentNode
	if len(state.History) > 0 {
		if last := state.History[len(state.History)-1]; last.Step != nil {
			lastNode = last.Step.NodeID
		}
	}
	e.listener.OnCheckpoint(state.ExecutionID, lastNode, string(status))
}

func (e *Engine) emitNodeStart(executionID string, node *Node) {
	if e.listener == nil {
		return
	}
	e.listener.OnNodeStart(executionID, listen.Node{ID: node.ID, Type: string(node.Kind)})
}

func (e *Engine) emitNodeComplete(executionID string, node *Node, result *NodeResult) {
	if e.listener == nil {
		return
	}
	meta := result.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	if result.Err != nil {
		meta["error"] = result.Err.Error()
	}
	e.listener.OnNodeComplete(executionID, listen.Node{ID: node.ID, Type: string(node.Kind)}, string(result.Status), meta)
}

func (e *Engine) emitPlannerStart(executionID, nodeID, prompt string) {
	if e.listener != nil {
		e.listener.OnPlannerStart(executionID, nodeID, prompt)
	}
}

func (e *Engine) emitPlannerComplete(executionID, nodeID string, stepCount int) {
	if e.listener != nil {
		e.listener.OnPlannerComplete(executionID, nodeID, stepCount)
	}
}

func (e *Engine) emitPlanCreated(executionID, planID, nodeID string, stepCount int) {
	if e.listener != nil {
		e.listener.OnPlanCreated(executionID, planID, nodeID, stepCount)
	}
}

func (e *Engine) emitPlanStepStarted(executionID, planID string, stepIndex int, toolName string) {
	if e.listener != nil {
		e.listener.OnPlanStepStarted(executionID, planID, stepIndex, toolName)
	}
}

func (e *Engine) emitPlanStepCompleted(executionID, planID string, stepIndex int, status string) {
	if e.listener != nil {
		e.listener.OnPlanStepCompleted(executionID, planID, stepIndex, status)
	}
}

func (e *Engine) emitPlanRevised(executionID, planID, reason string) {
	if e.listener != nil {
		e.listener.OnPlanRevised(executionID, planID, reason)
	}
}

func (e *Engine) emitPlanCompleted(executionID, planID, status string) {
	if e.listener != nil {
		e.listener.OnPlanCompleted(executionID, planID, status)
	}
}
