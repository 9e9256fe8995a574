package workflow

import "time"

// WorkflowState is the mutable, single-owner runtime state of one
// execution (spec.md §3). It is never shared across goroutines except by
// explicit branch-state copies (Fork, Parallel, sub-workflow).
type WorkflowState struct {
	ExecutionID string
	WorkflowID  string
	CurrentNode string

	// Context holds user and system data. Keys starting with "_" are
	// system-reserved (I7) and stripped from the public projection.
	Context map[string]interface{}

	History []HistoryEntry

	// RubricEvaluation is set only for the currently executing node (I6);
	// cleared at the start of every node dispatch.
	RubricEvaluation *RubricEvaluation

	// LoopBreakTarget is set by loop-break bookkeeping and consumed by the
	// next transition evaluation (spec.md §4.5).
	LoopBreakTarget *string

	// ActivePlan carries a plan paused for review across a checkpoint/resume
	// cycle, so Resume does not recreate it from scratch.
	ActivePlan *Plan
}

// NewWorkflowState creates a fresh state for a new execution.
func NewWorkflowState(executionID, workflowID, startNode string, initialContext map[string]interface{}) *WorkflowState {
	ctx := make(map[string]interface{}, len(initialContext)+1)
	for k, v := range initialContext {
		ctx[k] = v
	}
	return &WorkflowState{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		CurrentNode: startNode,
		Context:     ctx,
	}
}

// HistoryEntry is a tagged union over the two kinds of history record
// (spec.md §3): an ExecutionStep or a BacktrackEvent. History is append-only
// for the lifetime of an execution (I2).
type HistoryEntry struct {
	Step      *ExecutionStep
	Backtrack *BacktrackEvent
}

// ExecutionStep records one node's dispatch outcome.
type ExecutionStep struct {
	NodeID        string
	StateSnapshot map[string]interface{}
	Result        *NodeResult
	Timestamp     time.Time
}

// BacktrackType distinguishes why a BacktrackEvent was appended.
type BacktrackType string

const (
	BacktrackManual    BacktrackType = "MANUAL"
	BacktrackAutomatic BacktrackType = "AUTOMATIC"
	BacktrackJump      BacktrackType = "JUMP"
)

// BacktrackEvent records a jump of CurrentNode to an earlier node.
type BacktrackEvent struct {
	From        string
	To          string
	Reason      string
	Type        BacktrackType
	RubricScore *int
	Timestamp   time.Time
}

// AppendStep appends an ExecutionStep to history, preserving I2 (append-only).
func (s *WorkflowState) AppendStep(step ExecutionStep) {
	s.History = append(s.History, HistoryEntry{Step: &step})
}

// AppendBacktrack appends a BacktrackEvent to history.
func (s *WorkflowState) AppendBacktrack(evt BacktrackEvent) {
	s.History = append(s.History, HistoryEntry{Backtrack: &evt})
}

// PublicContext returns the subset of Context whose keys do not start with
// "_" (I7, spec.md §6 "Context key discipline"). Returns a fresh map; the
// live context is never exposed by reference.
func (s *WorkflowState) PublicContext() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Context))
	for k, v := range s.Context {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}

// SnapshotStatus enumerates the persisted lifecycle states of a Snapshot.
type SnapshotStatus string

const (
	StatusCheckpoint SnapshotStatus = "checkpoint"
	StatusPaused     SnapshotStatus = "paused"
	StatusCompleted  SnapshotStatus = "completed"
	StatusRejected   SnapshotStatus = "rejected"
	StatusFailed     SnapshotStatus = "failed"
)

// terminalStatuses lists statuses for which serverNodeId must be cleared
// (I3).
var terminalStatuses = map[SnapshotStatus]bool{
	StatusCompleted: true,
	StatusPaused:    true,
	StatusRejected:  true,
	StatusFailed:    true,
}

// IsTerminal reports whether status is one of the four terminal statuses.
func (s SnapshotStatus) IsTerminal() bool { return terminalStatuses[s] }

// Snapshot is the immutable, persistable projection of a WorkflowState
// (spec.md §3). Lease columns live here, not on WorkflowState, because
// leases are a storage/ownership concern, not an execution-semantics one.
type Snapshot struct {
	TenantID        string
	WorkflowID      string
	ExecutionID     string
	CurrentNodeID   *string
	Context         map[string]interface{}
	ActivePlan      *Plan
	RubricEval      *RubricEvaluation
	CreatedAt       time.Time
	Status          SnapshotStatus
	ServerNodeID    *string
	LastHeartbeatAt time.Time
}

// SnapshotFromState builds an immutable Snapshot from a live WorkflowState
// (R1: round-trips user-visible fields through ToState).
func SnapshotFromState(tenantID string, s *WorkflowState, status SnapshotStatus, activePlan *Plan) Snapshot {
	var nodeID *string
	if s.CurrentNode != "" {
		n := s.CurrentNode
		nodeID = &n
	}
	ctx := make(map[string]interface{}, len(s.Context))
	for k, v := range s.Context {
		ctx[k] = v
	}
	return Snapshot{
		TenantID:      tenantID,
		WorkflowID:    s.WorkflowID,
		ExecutionID:   s.ExecutionID,
		CurrentNodeID: nodeID,
		Context:       ctx,
		ActivePlan:    activePlan,
		RubricEval:    s.RubricEvaluation,
		CreatedAt:     time.Now(),
		Status:        status,
	}
}

// ToState reconstructs a resumable WorkflowState from a Snapshot (used by
// executeFrom and by lease recovery resume).
func (snap Snapshot) ToState() *WorkflowState {
	ctx := make(map[string]interface{}, len(snap.Context))
	for k, v := range snap.Context {
		ctx[k] = v
	}
	s := &WorkflowState{
		ExecutionID:      snap.ExecutionID,
		WorkflowID:       snap.WorkflowID,
		Context:          ctx,
		RubricEvaluation: snap.RubricEval,
	}
	if snap.CurrentNodeID != nil {
		s.CurrentNode = *snap.CurrentNodeID
	}
	s.ActivePlan = snap.ActivePlan
	return s
}
