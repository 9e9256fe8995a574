package workflow

// NodeKind tags which variant of Node is populated. Go has no sum types, so
// the engine rebuilds spec.md's sealed Node hierarchy as one struct per
// kind, switched on Kind — never open-ended polymorphism (spec.md §9).
type NodeKind string

const (
	KindEnd         NodeKind = "END"
	KindStandard    NodeKind = "STANDARD"
	KindParallel    NodeKind = "PARALLEL"
	KindFork        NodeKind = "FORK"
	KindJoin        NodeKind = "JOIN"
	KindLoop        NodeKind = "LOOP"
	KindSubWorkflow NodeKind = "SUB_WORKFLOW"
	KindAction      NodeKind = "ACTION"
	KindGeneric     NodeKind = "GENERIC"
)

// ExitStatus is the terminal disposition of an End node.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "SUCCESS"
	ExitFailure ExitStatus = "FAILURE"
	ExitCancel  ExitStatus = "CANCEL"
)

// Node is a vertex in the workflow graph. Exactly one of the Kind-tagged
// fields is populated, matching node.Kind.
type Node struct {
	ID   string
	Kind NodeKind

	End         *EndNode
	Standard    *StandardNode
	Parallel    *ParallelNode
	Fork        *ForkNode
	Join        *JoinNode
	Loop        *LoopNode
	SubWorkflow *SubWorkflowNode
	Action      *ActionNode
	Generic     *GenericNode
}

// EndNode terminates an execution with an ExitStatus.
type EndNode struct {
	ExitStatus ExitStatus
}

// ReviewMode controls whether a Standard node's result must pass through
// the external ReviewHandler before transitioning (spec.md §4.3).
type ReviewMode string

const (
	ReviewDisabled ReviewMode = "DISABLED"
	ReviewOptional ReviewMode = "OPTIONAL"
	ReviewRequired ReviewMode = "REQUIRED"
)

// ReviewConfig configures the Review processor for a Standard node.
type ReviewConfig struct {
	Mode           ReviewMode
	AllowBacktrack bool
	AllowEdit      bool
}

// PlanningMode selects how a Standard node's tool-call plan is produced.
type PlanningMode string

const (
	PlanningNone    PlanningMode = ""
	PlanningStatic  PlanningMode = "STATIC"
	PlanningDynamic PlanningMode = "DYNAMIC"
)

// PlanConstraints bounds plan creation and execution (spec.md §3, §4.6).
type PlanConstraints struct {
	MaxSteps       int
	MaxReplans     int
	MaxDuration    int64 // milliseconds; 0 = unbounded
	AllowReplan    bool
	MaxTokenBudget int
}

// PlanningConfig governs the plan sub-engine for a Standard node.
type PlanningConfig struct {
	Mode              PlanningMode
	Constraints       PlanConstraints
	ReviewBeforeExecute bool
}

// StandardNode calls an agent (optionally via a tool-call plan), attaches a
// rubric and/or human review, and routes via TransitionRules.
type StandardNode struct {
	AgentID           string
	Prompt            string
	RubricID          string
	ReviewConfig      *ReviewConfig
	PlanningConfig    PlanningConfig
	StaticPlan        *Plan
	PlanFailureTarget string
	OutputParams      []string
	TransitionRules   []TransitionRule

	// retryAttempts tracks the Failure-rule retry counter per node
	// instance for the lifetime of one execution (spec.md §4.5).
	retryAttempts int
}

// ScoreOperator is the comparator a single Score condition applies.
type ScoreOperator string

const (
	ScoreGT    ScoreOperator = "GT"
	ScoreGTE   ScoreOperator = "GTE"
	ScoreLT    ScoreOperator = "LT"
	ScoreLTE   ScoreOperator = "LTE"
	ScoreRange ScoreOperator = "RANGE"
)

// Branch is one fork of a Parallel node.
type Branch struct {
	ID       string
	AgentID  string
	Prompt   string
	RubricID string
	Weight   float64 // default 1.0
}

// ConsensusStrategy selects how BranchResults are reduced to a decision.
type ConsensusStrategy string

const (
	StrategyMajorityVote ConsensusStrategy = "MAJORITY_VOTE"
	StrategyUnanimous    ConsensusStrategy = "UNANIMOUS"
	StrategyWeightedVote ConsensusStrategy = "WEIGHTED_VOTE"
	StrategyJudgeDecides ConsensusStrategy = "JUDGE_DECIDES"
)

// ConsensusConfig configures the consensus evaluator for a Parallel node.
type ConsensusConfig struct {
	Strategy      ConsensusStrategy
	Threshold     *float64
	JudgeAgentID  string
}

// ParallelNode fans out to N branches concurrently and evaluates consensus.
type ParallelNode struct {
	Branches        []Branch
	Consensus       *ConsensusConfig
	TransitionRules []TransitionRule
}

// ForkNode spawns each target as an independent child execution.
type ForkNode struct {
	Targets         []string
	WaitForAll      bool
	TransitionRules []TransitionRule
}

// MergeStrategy selects how Join combines ForkResults.
type MergeStrategy string

const (
	MergeCollectAll      MergeStrategy = "COLLECT_ALL"
	MergeFirstCompleted  MergeStrategy = "FIRST_COMPLETED"
	MergeConcatenate     MergeStrategy = "CONCATENATE"
	MergeMaps            MergeStrategy = "MERGE_MAPS"
	MergeCustom          MergeStrategy = "CUSTOM"
)

// JoinNode awaits the fork context of each listed target and merges results.
type JoinNode struct {
	AwaitTargets    []string
	MergeStrategy   MergeStrategy
	OutputField     string // default "fork_results"
	TimeoutMs       int64
	FailOnAnyError  bool
	TransitionRules []TransitionRule
}

// LoopNode bounds a cyclic region of the graph.
type LoopNode struct {
	BreakConditions []string // context keys/expressions; opaque to the engine, evaluated by the caller-supplied predicate
	MaxIterations   int
	TransitionRules []TransitionRule
}

// SubWorkflowNode invokes another workflow recursively, mapping context in
// and out.
type SubWorkflowNode struct {
	WorkflowID      string
	InputMapping    map[string]string // child key -> parent key
	OutputMapping   map[string]string // parent key -> child key
	TransitionRules []TransitionRule
}

// ActionNode dispatches one or more side-effecting Actions.
type ActionNode struct {
	Actions         []Action
	TransitionRules []TransitionRule
}

// GenericNode delegates to a named handler in the generic-executor registry.
type GenericNode struct {
	ExecutorType    string
	Config          map[string]interface{}
	RubricID        string
	TransitionRules []TransitionRule
}

// transitionRulesOf returns the declared TransitionRules for any node kind,
// used uniformly by the Transition processor.
func transitionRulesOf(n *Node) []TransitionRule {
	switch n.Kind {
	case KindStandard:
		return n.Standard.TransitionRules
	case KindParallel:
		return n.Parallel.TransitionRules
	case KindFork:
		return n.Fork.TransitionRules
	case KindJoin:
		return n.Join.TransitionRules
	case KindLoop:
		return n.Loop.TransitionRules
	case KindSubWorkflow:
		return n.SubWorkflow.TransitionRules
	case KindAction:
		return n.Action.TransitionRules
	case KindGeneric:
		return n.Generic.TransitionRules
	default:
		return nil
	}
}

// AgentConfig describes an agent referenced by a Workflow, used to
// auto-register agents with the agent registry before execution begins
// (spec.md §4.1).
type AgentConfig struct {
	AgentID  string
	Provider string
	Model    string
	Config   map[string]interface{}
}

// RubricRef is an opaque pointer to a rubric definition; parsing the
// rubric's own markdown/YAML source is out of scope (spec.md §1) — the
// engine only needs the ID to hand to the external rubric engine.
type RubricRef struct {
	RubricID string
}

// Workflow is the immutable definition loaded for one (tenantId, workflowId,
// version) triple (spec.md §3).
type Workflow struct {
	TenantID   string
	WorkflowID string
	Version    int

	Nodes     map[string]*Node
	StartNode string

	Agents  map[string]AgentConfig
	Rubrics map[string]RubricRef
}

// Validate enforces invariant I1: the start node must exist.
func (w *Workflow) Validate() error {
	if _, ok := w.Nodes[w.StartNode]; !ok {
		return &EngineError{Message: "start node does not exist: " + w.StartNode, Code: CodeNodeMissing}
	}
	return nil
}
