package workflow

import (
	"context"
	"time"
)

// PlanStepStatus is the lifecycle state of one PlanStep.
type PlanStepStatus string

const (
	StepPending   PlanStepStatus = "PENDING"
	StepRunning   PlanStepStatus = "RUNNING"
	StepCompleted PlanStepStatus = "COMPLETED"
	StepFailed    PlanStepStatus = "FAILED"
)

// PlanStep is one tool invocation in a Plan.
type PlanStep struct {
	ID       string
	ToolName string
	Args     map[string]interface{}
	Status   PlanStepStatus
	Result   map[string]interface{}
	ErrMsg   string
}

// PlanStatus is the lifecycle state of a Plan as a whole.
type PlanStatus string

const (
	PlanCreated         PlanStatus = "CREATED"
	PlanAwaitingReview  PlanStatus = "AWAITING_REVIEW"
	PlanExecuting       PlanStatus = "EXECUTING"
	PlanCompleted       PlanStatus = "COMPLETED"
	PlanFailed          PlanStatus = "FAILED"
)

// Plan is a tool-call plan attached to a Standard node in STATIC or DYNAMIC
// planning mode (spec.md §4.6).
type Plan struct {
	ID          string
	NodeID      string
	Steps       []PlanStep
	Status      PlanStatus
	ReplanCount int
	CreatedAt   time.Time
}

// ToolSpec describes one tool available to a Planner when composing a plan.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// Planner creates and revises tool-call plans. Implementations typically
// wrap an Agent that has been prompted to emit a structured plan.
type Planner interface {
	CreatePlan(ctx context.Context, prompt string, tools []ToolSpec) (*Plan, error)
	RevisePlan(ctx context.Context, plan *Plan, failedStep PlanStep, reason string) (*Plan, error)
}

// ToolExecutor runs one named tool call and returns its result fields.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error)
}

// planOutcome is returned by runPlan to the Standard node executor.
type planOutcome struct {
	plan    *Plan
	outputs map[string]interface{}
	err     error
}

// runPlan drives a Plan's steps against executor in order, replanning via
// planner when a step fails and constraints.AllowReplan permits another
// attempt, up to constraints.MaxReplans. Exceeding MaxSteps or MaxReplans
// surfaces CodePlanCreationError/CodePlanRevisionError via planOutcome.err
// rather than looping forever (bounds I5).
func runPlan(ctx context.Context, plan *Plan, executor ToolExecutor, planner Planner, constraints PlanConstraints, collector *planMetricsSink) planOutcome {
	if constraints.MaxSteps > 0 && len(plan.Steps) > constraints.MaxSteps {
		return planOutcome{plan: plan, err: &EngineError{Message: "plan exceeds max step count", Code: CodePlanCreationError, NodeID: plan.NodeID}}
	}

	plan.Status = PlanExecuting
	merged := map[string]interface{}{}

	for i := 0; i < len(plan.Steps); i++ {
		step := &plan.Steps[i]
		step.Status = StepRunning
		if collector != nil && collector.onStepStart != nil {
			collector.onStepStart(plan.ID, i, step.ToolName)
		}
		out, err := executor.Execute(ctx, step.ToolName, step.Args)
		if err != nil {
			step.Status = StepFailed
			step.ErrMsg = err.Error()
			if collector != nil && collector.onStepComplete != nil {
				collector.onStepComplete(plan.ID, i, string(StepFailed))
			}

			if !constraints.AllowReplan || planner == nil || plan.ReplanCount >= constraints.MaxReplans {
				plan.Status = PlanFailed
				if collector != nil && collector.onComplete != nil {
					collector.onComplete(plan.ID, string(PlanFailed))
				}
				return planOutcome{plan: plan, err: &EngineError{Message: "plan step failed: " + err.Error(), Code: CodePlanRevisionError, NodeID: plan.NodeID, Cause: err}}
			}

			revised, rerr := planner.RevisePlan(ctx, plan, *step, err.Error())
			if rerr != nil {
				plan.Status = PlanFailed
				if collector != nil && collector.onComplete != nil {
					collector.onComplete(plan.ID, string(PlanFailed))
				}
				return planOutcome{plan: plan, err: &EngineError{Message: "replan failed: " + rerr.Error(), Code: CodePlanRevisionError, NodeID: plan.NodeID, Cause: rerr}}
			}
			revised.ReplanCount = plan.ReplanCount + 1
			if collector != nil {
				if collector.onReplan != nil {
					collector.onReplan(plan.NodeID)
				}
				if collector.onRevised != nil {
					collector.onRevised(plan.ID, err.Error())
				}
			}
			plan = revised
			i = -1 // restart traversal over the revised step list
			continue
		}

		step.Status = StepCompleted
		step.Result = out
		if collector != nil && collector.onStepComplete != nil {
			collector.onStepComplete(plan.ID, i, string(StepCompleted))
		}
		for k, v := range out {
			merged[k] = v
		}
	}

	plan.Status = PlanCompleted
	if collector != nil && collector.onComplete != nil {
		collector.onComplete(plan.ID, string(PlanCompleted))
	}
	return planOutcome{plan: plan, outputs: merged}
}

// planMetricsSink decouples runPlan from the listen/metrics packages (which
// live above workflow in the import graph via the service wiring). Each
// field is optional; a nil callback is simply skipped.
type planMetricsSink struct {
	onReplan       func(nodeID string)
	onStepStart    func(planID string, stepIndex int, toolName string)
	onStepComplete func(planID string, stepIndex int, status string)
	onRevised      func(planID string, reason string)
	onComplete     func(planID string, status string)
}
