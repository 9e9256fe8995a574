package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// dispatch executes node against state and returns its NodeResult plus,
// when applicable, the RubricEvaluation produced for this step and the
// Plan currently in flight (so the caller can checkpoint it). Kind
// determines which private executeX helper runs; this is the single
// switch point the rest of the package avoids duplicating (spec.md §9:
// explicit dispatch over a sealed tag, not an interface method per node).
func (e *Engine) dispatch(ctx context.Context, tenantID string, w *Workflow, node *Node, state *WorkflowState) (*NodeResult, *RubricEvaluation, *Plan) {
	switch node.Kind {
	case KindStandard:
		return e.executeStandard(ctx, tenantID, node, state)
	case KindParallel:
		r := e.executeParallel(ctx, tenantID, node, state)
		return r, nil, nil
	case KindFork:
		r := e.executeFork(ctx, tenantID, w, node, state)
		return r, nil, nil
	case KindJoin:
		r := e.executeJoin(ctx, node, state)
		return r, nil, nil
	case KindLoop:
		r := e.executeLoop(node, state)
		return r, nil, nil
	case KindSubWorkflow:
		r := e.executeSubWorkflow(ctx, tenantID, node, state)
		return r, nil, nil
	case KindAction:
		r := e.executeAction(ctx, node, state)
		return r, nil, nil
	case KindGeneric:
		return e.executeGeneric(ctx, node, state)
	default:
		return failureResult(&EngineError{Message: "unknown node kind", Code: CodeNodeExecutorNotFound, NodeID: node.ID}), nil, nil
	}
}

// executeStandard runs a Standard node: optionally creates/executes a
// tool-call plan, calls the agent, scores the rubric, and gates the result
// through review (spec.md §4.1-4.4, §4.6).
func (e *Engine) executeStandard(ctx context.Context, tenantID string, node *Node, state *WorkflowState) (*NodeResult, *RubricEvaluation, *Plan) {
	sn := node.Standard
	agent, ok := e.registry.Agent(sn.AgentID)
	if !ok {
		return failureResult(&EngineError{Message: "agent not registered: " + sn.AgentID, Code: CodeNodeExecutorNotFound, NodeID: node.ID}), nil, nil
	}

	var activePlan *Plan
	output := map[string]interface{}{}

	if sn.PlanningConfig.Mode != PlanningNone {
		if state.ActivePlan != nil && state.ActivePlan.NodeID == node.ID {
			// resuming after a review-before-execute pause: run the
			// plan that was already approved rather than recreating it.
			activePlan = state.ActivePlan
			state.ActivePlan = nil
		} else {
			var err error
			activePlan, err = e.preparePlan(ctx, sn, agent, node.ID, state.ExecutionID, state.Context)
			if err != nil {
				return failureResult(err), nil, nil
			}
			if sn.PlanningConfig.ReviewBeforeExecute {
				return pendingResult(map[string]interface{}{"reason": "plan awaiting review", "plan_id": activePlan.ID}), nil, activePlan
			}
		}
		outcome := e.runPlanFor(ctx, sn, node.ID, state.ExecutionID, activePlan)
		if outcome.err != nil {
			return failureResult(outcome.err), nil, outcome.plan
		}
		output = outcome.outputs
		activePlan = outcome.plan
	} else {
		prompt := resolvePrompt(e.templates, node.ID, sn.Prompt, state.Context)
		resp, err := agent.Execute(ctx, prompt, state.Context)
		if err != nil {
			return failureResult(err), nil, nil
		}
		switch resp.Kind {
		case AgentText:
			if verr := validateOutput(resp.Text, e.opts.MaxOutputBytes); verr != nil {
				return failureResult(verr), nil, nil
			}
			output = map[string]interface{}{"text": resp.Text}
		case AgentError:
			return failureResult(&EngineError{Message: resp.ErrMsg, Code: CodeMissingInput, NodeID: node.ID}), nil, nil
		case AgentToolRequest:
			tool, ok := e.registry.Tool(resp.ToolName)
			if !ok {
				return failureResult(&EngineError{Message: "tool not registered: " + resp.ToolName, Code: CodeNodeExecutorNotFound, NodeID: node.ID}), nil, nil
			}
			out, terr := tool.Execute(ctx, resp.ToolName, resp.ToolArgs)
			if terr != nil {
				return failureResult(terr), nil, nil
			}
			output = out
		case AgentPlanProposal:
			activePlan = &Plan{ID: uuid.NewString(), NodeID: node.ID, Steps: resp.ProposedPlan, Status: PlanCreated, CreatedAt: time.Now()}
			e.emitPlanCreated(state.ExecutionID, activePlan.ID, node.ID, len(activePlan.Steps))
			outcome := e.runPlanFor(ctx, sn, node.ID, state.ExecutionID, activePlan)
			if outcome.err != nil {
				return failureResult(outcome.err), nil, outcome.plan
			}
			output = outcome.outputs
			activePlan = outcome.plan
		}
	}

	if len(sn.OutputParams) > 0 {
		output = applyOutputParams(sn.OutputParams, output)
	}

	for k, v := range output {
		state.Context[k] = v
	}

	var rubricEval *RubricEvaluation
	if sn.RubricID != "" {
		re := e.registry.RubricEngine()
		if re == nil {
			return failureResult(&EngineError{Message: "no rubric engine configured but node declares RubricID", Code: CodeNodeExecutorNotFound, NodeID: node.ID}), nil, activePlan
		}
		var err error
		rubricEval, err = re.Evaluate(ctx, sn.RubricID, output)
		if err != nil {
			return failureResult(err), nil, activePlan
		}
		state.RubricEvaluation = rubricEval
	}

	finalOutput, decision, err := applyReview(ctx, sn.ReviewConfig, e.review, state.ExecutionID, node.ID, output)
	if err != nil {
		return failureResult(err), rubricEval, activePlan
	}
	switch decision.Kind {
	case ReviewReject:
		return failureResult(&EngineError{Message: decision.Reason, Code: CodeOutputValidation, NodeID: node.ID}), rubricEval, activePlan
	case ReviewBacktrack:
		state.AppendBacktrack(BacktrackEvent{From: node.ID, To: decision.BacktrackTo, Reason: decision.Reason, Type: BacktrackManual, Timestamp: time.Now()})
		for k, v := range finalOutput {
			state.Context[k] = v
		}
		result := successResult(finalOutput)
		result.Metadata = map[string]interface{}{"review_backtrack_to": decision.BacktrackTo}
		return result, rubricEval, activePlan
	}
	for k, v := range finalOutput {
		state.Context[k] = v
	}

	return successResult(finalOutput), rubricEval, activePlan
}

// applyOutputParams implements the Standard-node OutputExtraction step
// (spec.md §4.2 post-pipeline): the node's raw text output is parsed as
// JSON and the fields named in params are lifted into the output map
// alongside the raw fields already there, ready to merge into
// WorkflowState.Context. Uses gjson rather than a struct-tagged unmarshal
// since params names are only known at workflow-definition time, not
// compile time. A param missing from the JSON, or output with no "text"
// to parse, is silently skipped rather than failing the node.
func applyOutputParams(params []string, output map[string]interface{}) map[string]interface{} {
	text, ok := output["text"].(string)
	if !ok || text == "" {
		return output
	}
	if !gjson.Valid(text) {
		return output
	}
	parsed := gjson.Parse(text)
	for _, name := range params {
		field := parsed.Get(name)
		if !field.Exists() {
			continue
		}
		output[name] = field.Value()
	}
	return output
}

func (e *Engine) preparePlan(ctx context.Context, sn *StandardNode, agent Agent, nodeID string, executionID string, context map[string]interface{}) (*Plan, error) {
	if sn.PlanningConfig.Mode == PlanningStatic {
		if sn.StaticPlan == nil {
			return nil, &EngineError{Message: "STATIC planning mode requires StaticPlan", Code: CodePlanCreationError, NodeID: nodeID}
		}
		return sn.StaticPlan, nil
	}
	planner, ok := e.registry.PlannerFor(sn.AgentID)
	if !ok {
		return nil, &EngineError{Message: "no planner registered for agent " + sn.AgentID, Code: CodePlanCreationError, NodeID: nodeID}
	}
	prompt := resolvePrompt(e.templates, nodeID, sn.Prompt, context)
	e.emitPlannerStart(executionID, nodeID, prompt)
	plan, err := planner.CreatePlan(ctx, prompt, nil)
	if err != nil {
		return nil, &EngineError{Message: "plan creation failed: " + err.Error(), Code: CodePlanCreationError, NodeID: nodeID, Cause: err}
	}
	plan.NodeID = nodeID
	e.emitPlannerComplete(executionID, nodeID, len(plan.Steps))
	e.emitPlanCreated(executionID, plan.ID, nodeID, len(plan.Steps))
	return plan, nil
}

func (e *Engine) runPlanFor(ctx context.Context, sn *StandardNode, nodeID string, executionID string, plan *Plan) planOutcome {
	planner, _ := e.registry.PlannerFor(sn.AgentID)
	executor := &registryToolExecutor{r: e.registry}
	constraints := sn.PlanningConfig.Constraints
	if constraints.MaxSteps == 0 {
		constraints.MaxSteps = e.opts.PlanMaxSteps
	}
	if constraints.MaxReplans == 0 {
		constraints.MaxReplans = e.opts.PlanMaxReplans
	}
	sink := &planMetricsSink{
		onReplan:       func(id string) { e.metrics.IncPlanReplan("", id) },
		onStepStart:    func(planID string, stepIndex int, toolName string) { e.emitPlanStepStarted(executionID, planID, stepIndex, toolName) },
		onStepComplete: func(planID string, stepIndex int, status string) { e.emitPlanStepCompleted(executionID, planID, stepIndex, status) },
		onRevised:      func(planID string, reason string) { e.emitPlanRevised(executionID, planID, reason) },
		onComplete:     func(planID string, status string) { e.emitPlanCompleted(executionID, planID, status) },
	}
	return runPlan(ctx, plan, executor, planner, constraints, sink)
}

type registryToolExecutor struct{ r *registry }

func (rte *registryToolExecutor) Execute(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	t, ok := rte.r.Tool(toolName)
	if !ok {
		return nil, &EngineError{Message: "tool not registered: " + toolName, Code: CodeNodeExecutorNotFound}
	}
	return t.Execute(ctx, toolName, args)
}

// executeParallel fans out a Parallel node's branches over a bounded
// errgroup — the "per-workflow concurrency pool" spec.md §4.7 calls for —
// then reduces the results through the configured consensus strategy. Each
// branch goroutine always returns a nil error to the group: branch failures
// are captured per-branch in results[i].Err, not propagated as a group
// error, since one failing branch must not cancel its siblings (consensus
// still needs every branch's outcome).
func (e *Engine) executeParallel(ctx context.Context, tenantID string, node *Node, state *WorkflowState) *NodeResult {
	pn := node.Parallel
	results := make([]BranchResult, len(pn.Branches))

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.MaxConcurrentBranches > 0 {
		g.SetLimit(e.opts.MaxConcurrentBranches)
	}
	for i, br := range pn.Branches {
		g.Go(func() error {
			ctx := gctx
			agent, ok := e.registry.Agent(br.AgentID)
			if !ok {
				results[i] = BranchResult{BranchID: br.ID, Err: &EngineError{Message: "agent not registered: " + br.AgentID, Code: CodeNodeExecutorNotFound, NodeID: node.ID}}
				return nil
			}
			prompt := resolvePrompt(e.templates, node.ID+":"+br.ID, br.Prompt, state.Context)
			resp, err := agent.Execute(ctx, prompt, state.Context)
			if err != nil {
				results[i] = BranchResult{BranchID: br.ID, Err: err, Weight: br.Weight}
				return nil
			}
			if verr := validateOutput(resp.Text, e.opts.MaxOutputBytes); verr != nil {
				results[i] = BranchResult{BranchID: br.ID, Err: verr, Weight: br.Weight}
				return nil
			}
			out := map[string]interface{}{"text": resp.Text}
			if resp.Output != nil {
				out = resp.Output
			}
			weight := br.Weight
			if weight == 0 {
				weight = 1
			}
			meta := map[string]interface{}{}

			// If the branch declares a rubric, score it here so consensus
			// vote extraction sees rubric_passed/rubric_score ahead of any
			// self-reported score field (spec.md §4.7).
			if br.RubricID != "" {
				re := e.registry.RubricEngine()
				if re == nil {
					results[i] = BranchResult{BranchID: br.ID, Err: &EngineError{Message: "no rubric engine configured but branch declares RubricID", Code: CodeNodeExecutorNotFound, NodeID: node.ID}}
					return nil
				}
				eval, rerr := re.Evaluate(ctx, br.RubricID, out)
				if rerr != nil {
					results[i] = BranchResult{BranchID: br.ID, Err: rerr, Weight: weight}
					return nil
				}
				meta["rubric_passed"] = eval.Score >= 70
				meta["rubric_score"] = eval.Score
			}

			results[i] = BranchResult{BranchID: br.ID, Output: out, Text: resp.Text, Metadata: meta, Weight: weight}
			return nil
		})
	}
	g.Wait() // branches never return a non-nil error; failures live in results[i].Err

	if pn.Consensus == nil {
		merged := map[string]interface{}{}
		for _, r := range results {
			if r.Err == nil {
				merged[r.BranchID] = r.Output
			}
		}
		return successResult(merged)
	}

	var judge Agent
	if pn.Consensus.Strategy == StrategyJudgeDecides {
		judge, _ = e.registry.Agent(pn.Consensus.JudgeAgentID)
	}
	outcome, err := evaluateConsensus(ctx, pn.Consensus, results, judge)
	if err != nil {
		return failureResult(err)
	}
	resultLabel := "no_consensus"
	if outcome.Reached {
		resultLabel = "decided"
	}
	e.metrics.IncConsensus(tenantID, string(pn.Consensus.Strategy), resultLabel)
	if !outcome.Reached {
		return failureResult(&EngineError{Message: "consensus not reached", Code: CodeNoValidTransition, NodeID: node.ID})
	}
	out := map[string]interface{}{}
	for k, v := range outcome.Decision {
		out[k] = v
	}
	out["_consensus_agreement"] = outcome.Agreement
	out["_consensus_winner"] = outcome.Winner
	return successResult(out)
}

// executeFork spawns each target as an independent child execution sharing
// a copy of the current context. WaitForAll blocks the Fork node itself
// until every child completes; otherwise the node completes immediately and
// a later Join awaits the stashed ForkContext entries.
func (e *Engine) executeFork(ctx context.Context, tenantID string, w *Workflow, node *Node, state *WorkflowState) *NodeResult {
	fn := node.Fork
	var wg sync.WaitGroup
	for _, target := range fn.Targets {
		childState := NewWorkflowState(uuid.NewString(), state.WorkflowID, target, state.PublicContext())
		fc := &ForkContext{Target: target, ChildExecID: childState.ExecutionID, Done: make(chan struct{}), StartedAt: time.Now()}
		stashForkContext(state, fc)

		wg.Add(1)
		go func(fc *ForkContext, childState *WorkflowState) {
			defer wg.Done()
			defer close(fc.Done)
			res, err := e.run(ctx, tenantID, w, childState)
			if err != nil {
				res = &ExecutionResult{Kind: ResultFailure, ExecutionID: childState.ExecutionID, Err: err}
			}
			fc.Result = res
			fc.CompletedAt = time.Now()
		}(fc, childState)
	}
	if fn.WaitForAll {
		wg.Wait()
	}
	return successResult(nil)
}

// executeJoin awaits every forked target a Join declares and merges their
// results per MergeStrategy.
func (e *Engine) executeJoin(ctx context.Context, node *Node, state *WorkflowState) *NodeResult {
	jn := node.Join
	timeout := time.Duration(jn.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.opts.ForkJoinTimeout
	}
	deadline := time.After(timeout)

	results := make([]joinedResult, 0, len(jn.AwaitTargets))
	for _, target := range jn.AwaitTargets {
		fc := lookupForkContext(state, target)
		if fc == nil {
			return failureResult(&EngineError{Message: "join awaits a target nothing forked: " + target, Code: CodeNoValidTransition, NodeID: node.ID})
		}
		select {
		case <-fc.Done:
			if fc.Result.Kind == ResultFailure && jn.FailOnAnyError {
				return failureResult(&EngineError{Message: "forked branch failed: " + target, Code: CodeNoValidTransition, NodeID: node.ID, Cause: fc.Result.Err})
			}
			results = append(results, joinedResult{Target: target, Result: fc.Result, CompletedAt: fc.CompletedAt})
		case <-deadline:
			return failureResult(&EngineError{Message: "join timed out awaiting: " + target, Code: CodeTimeout, NodeID: node.ID})
		case <-ctx.Done():
			return failureResult(ctx.Err())
		}
	}
	return successResult(mergeForkResults(jn.MergeStrategy, jn.OutputField, results))
}

// executeLoop evaluates break conditions against the live context; when any
// named key is truthy, LoopBreakTarget is set so the traversal loop exits
// the cycle on its next iteration (spec.md §4.9).
func (e *Engine) executeLoop(node *Node, state *WorkflowState) *NodeResult {
	ln := node.Loop
	for _, cond := range ln.BreakConditions {
		if isTruthy(state.Context[cond]) {
			for _, r := range transitionRulesOf(node) {
				if r.Kind == TransitionSuccess {
					target := r.Success.Target
					state.LoopBreakTarget = &target
					break
				}
			}
			return successResult(map[string]interface{}{"loop_broken": true, "condition": cond})
		}
	}
	return successResult(map[string]interface{}{"loop_broken": false})
}

// executeSubWorkflow maps parent context into a child execution of another
// registered workflow, runs it to completion synchronously, then maps
// results back into the parent's context.
func (e *Engine) executeSubWorkflow(ctx context.Context, tenantID string, node *Node, state *WorkflowState) *NodeResult {
	sw := node.SubWorkflow
	child, ok := e.workflow(tenantID, sw.WorkflowID)
	if !ok {
		return failureResult(&EngineError{Message: "sub-workflow not registered: " + sw.WorkflowID, Code: CodeNodeMissing, NodeID: node.ID})
	}
	childCtx := map[string]interface{}{}
	for childKey, parentKey := range sw.InputMapping {
		childCtx[childKey] = state.Context[parentKey]
	}
	childState := NewWorkflowState(uuid.NewString(), child.WorkflowID, child.StartNode, childCtx)

	result, err := e.run(ctx, tenantID, child, childState)
	if err != nil {
		return failureResult(err)
	}
	if result.Kind != ResultCompleted {
		return failureResult(&EngineError{Message: "sub-workflow did not complete: " + string(result.Kind), Code: CodeNoValidTransition, NodeID: node.ID})
	}
	out := map[string]interface{}{}
	for parentKey, childKey := range sw.OutputMapping {
		out[parentKey] = result.Context[childKey]
	}
	return successResult(out)
}

// executeAction dispatches every Action in order; a Send action's Async
// flag determines whether the node blocks for the correlated reply.
func (e *Engine) executeAction(ctx context.Context, node *Node, state *WorkflowState) *NodeResult {
	an := node.Action
	merged := map[string]interface{}{}
	for _, act := range an.Actions {
		switch act.Kind {
		case ActionExecute:
			h, ok := e.registry.ActionHandler(act.Execute.HandlerName)
			if !ok {
				return failureResult(&EngineError{Message: "action handler not registered: " + act.Execute.HandlerName, Code: CodeNodeExecutorNotFound, NodeID: node.ID})
			}
			out, err := h.Handle(ctx, act.Execute.Params)
			if err != nil {
				return failureResult(err)
			}
			for k, v := range out {
				merged[k] = v
			}
		case ActionSend:
			if e.rpc == nil {
				return failureResult(&EngineError{Message: "no RPC sender configured for Send action", Code: CodeNotConnected, NodeID: node.ID})
			}
			if act.Send.Async {
				if err := e.rpc.SendNotification(act.Send.ClientID, act.Send.Method, act.Send.Params); err != nil {
					return failureResult(err)
				}
				continue
			}
			out, err := e.rpc.SendRequest(ctx, act.Send.ClientID, act.Send.Method, act.Send.Params)
			if err != nil {
				return failureResult(err)
			}
			for k, v := range out {
				merged[k] = v
			}
		}
	}
	for k, v := range merged {
		state.Context[k] = v
	}
	return successResult(merged)
}

// executeGeneric delegates to the named handler in the generic registry,
// optionally scoring the output through the rubric engine.
func (e *Engine) executeGeneric(ctx context.Context, node *Node, state *WorkflowState) (*NodeResult, *RubricEvaluation, *Plan) {
	gn := node.Generic
	h, ok := e.registry.Generic(gn.ExecutorType)
	if !ok {
		return failureResult(&EngineError{Message: "generic executor not registered: " + gn.ExecutorType, Code: CodeNodeExecutorNotFound, NodeID: node.ID}), nil, nil
	}
	out, err := h.Handle(ctx, gn.Config, state)
	if err != nil {
		return failureResult(err), nil, nil
	}
	for k, v := range out {
		state.Context[k] = v
	}

	var rubricEval *RubricEvaluation
	if gn.RubricID != "" {
		re := e.registry.RubricEngine()
		if re != nil {
			rubricEval, err = re.Evaluate(ctx, gn.RubricID, out)
			if err != nil {
				return failureResult(err), nil, nil
			}
			state.RubricEvaluation = rubricEval
		}
	}
	return successResult(out), rubricEval, nil
}
