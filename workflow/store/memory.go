package store

import (
	"context"
	"sync"
	"time"

	"github.com/flowmesh/orchestrator/workflow"
)

// MemoryWorkflowRepository is an in-memory WorkflowRepository, grounded on
// the teacher's own MemStore[S] (sync.RWMutex-guarded map) but reshaped
// around this module's (tenantID, workflowID) keyspace instead of the
// teacher's single-runID keyspace. Useful for tests and single-process
// development; state does not survive a restart.
type MemoryWorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// NewMemoryWorkflowRepository constructs an empty MemoryWorkflowRepository.
func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{workflows: make(map[string]*workflow.Workflow)}
}

func workflowKey(tenantID, workflowID string) string {
	return tenantID + "/" + workflowID
}

// Save stores w, overwriting any prior definition under the same
// (TenantID, WorkflowID). Only the Workflow struct itself is copied: its
// Nodes map and the nodes in it stay shared with the caller's *Workflow, so
// mutating those later also changes the stored definition.
func (r *MemoryWorkflowRepository) Save(_ context.Context, w *workflow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	r.workflows[workflowKey(w.TenantID, w.WorkflowID)] = &cp
	return nil
}

// FindByID returns the saved workflow, or ErrNotFound.
func (r *MemoryWorkflowRepository) FindByID(_ context.Context, tenantID, workflowID string) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[workflowKey(tenantID, workflowID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// FindAll returns every workflow saved under tenantID, in no particular
// order.
func (r *MemoryWorkflowRepository) FindAll(_ context.Context, tenantID string) ([]*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*workflow.Workflow
	for _, w := range r.workflows {
		if w.TenantID == tenantID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Delete removes the workflow, if present. Deleting an absent workflow is
// not an error.
func (r *MemoryWorkflowRepository) Delete(_ context.Context, tenantID, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, workflowKey(tenantID, workflowID))
	return nil
}

// Exists reports whether (tenantID, workflowID) has a saved definition.
func (r *MemoryWorkflowRepository) Exists(_ context.Context, tenantID, workflowID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workflows[workflowKey(tenantID, workflowID)]
	return ok, nil
}

// MemoryWorkflowStateRepository is an in-memory WorkflowStateRepository.
// Its method set satisfies both workflow.SnapshotStore and
// workflow.LeaseStore (store.go's doc comment), so it plugs directly into
// Engine.SetSnapshotStore and LeaseManager without an adapter.
type MemoryWorkflowStateRepository struct {
	mu        sync.RWMutex
	snapshots map[string]workflow.Snapshot // executionID -> latest snapshot
}

// NewMemoryWorkflowStateRepository constructs an empty
// MemoryWorkflowStateRepository.
func NewMemoryWorkflowStateRepository() *MemoryWorkflowStateRepository {
	return &MemoryWorkflowStateRepository{snapshots: make(map[string]workflow.Snapshot)}
}

// SaveSnapshot upserts snap, keyed by ExecutionID (one row per execution,
// overwritten on every checkpoint — this module snapshots full state rather
// than the teacher's step-log, so there is nothing to append to).
func (r *MemoryWorkflowStateRepository) SaveSnapshot(_ context.Context, snap workflow.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap.ExecutionID] = snap
	return nil
}

// LoadSnapshot returns the latest snapshot for (tenantID, executionID), or
// ErrNotFound.
func (r *MemoryWorkflowStateRepository) LoadSnapshot(_ context.Context, tenantID, executionID string) (workflow.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[executionID]
	if !ok || snap.TenantID != tenantID {
		return workflow.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// FindPaused returns every snapshot under tenantID whose Status is
// StatusPaused (awaiting human review or an external JSON-RPC reply).
func (r *MemoryWorkflowStateRepository) FindPaused(_ context.Context, tenantID string) ([]workflow.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []workflow.Snapshot
	for _, snap := range r.snapshots {
		if snap.TenantID == tenantID && snap.Status == workflow.StatusPaused {
			out = append(out, snap)
		}
	}
	return out, nil
}

// UpdateHeartbeats stamps LastHeartbeatAt=now and ServerNodeID=serverNodeID
// for every listed executionID still in the actively-owned
// workflow.StatusCheckpoint state (spec.md §4.11). A missing executionID is
// skipped rather than treated as an error — it may have completed or been
// reassigned between the caller building its tracked set and this call.
func (r *MemoryWorkflowStateRepository) UpdateHeartbeats(_ context.Context, serverNodeID string, executionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, id := range executionIDs {
		snap, ok := r.snapshots[id]
		if !ok || snap.Status.IsTerminal() {
			continue
		}
		node := serverNodeID
		snap.ServerNodeID = &node
		snap.LastHeartbeatAt = now
		r.snapshots[id] = snap
	}
	return nil
}

// ClaimStaleExecutions reassigns every non-terminal snapshot whose
// LastHeartbeatAt predates staleBefore to claimingNodeID, resetting its
// heartbeat clock, and returns the claimed executionIDs. This is the
// in-memory half of the race-free sweep (spec.md §4.11); the mutex makes
// the read-check-write atomic across concurrent sweepers in one process.
func (r *MemoryWorkflowStateRepository) ClaimStaleExecutions(_ context.Context, claimingNodeID string, staleBefore time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var claimed []string
	for id, snap := range r.snapshots {
		if snap.Status.IsTerminal() {
			continue
		}
		if snap.LastHeartbeatAt.IsZero() || snap.LastHeartbeatAt.Before(staleBefore) {
			node := claimingNodeID
			snap.ServerNodeID = &node
			snap.LastHeartbeatAt = now
			r.snapshots[id] = snap
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}
