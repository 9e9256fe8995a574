package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/workflow"
)

func testWorkflow(tenantID, workflowID string) *workflow.Workflow {
	return &workflow.Workflow{
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Version:    1,
		StartNode:  "start",
		Nodes: map[string]*workflow.Node{
			"start": {ID: "start", Kind: workflow.KindEnd, End: &workflow.EndNode{ExitStatus: workflow.ExitSuccess}},
		},
	}
}

func TestMemoryWorkflowRepositorySaveAndFind(t *testing.T) {
	r := NewMemoryWorkflowRepository()
	ctx := context.Background()

	if err := r.Save(ctx, testWorkflow("t1", "wf1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := r.FindByID(ctx, "t1", "wf1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.WorkflowID != "wf1" || got.StartNode != "start" {
		t.Fatalf("unexpected workflow: %+v", got)
	}

	ok, err := r.Exists(ctx, "t1", "wf1")
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}

	if _, err := r.FindByID(ctx, "t1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryWorkflowRepositoryFindAllScopedByTenant(t *testing.T) {
	r := NewMemoryWorkflowRepository()
	ctx := context.Background()
	r.Save(ctx, testWorkflow("t1", "a"))
	r.Save(ctx, testWorkflow("t1", "b"))
	r.Save(ctx, testWorkflow("t2", "c"))

	got, err := r.FindAll(ctx, "t1")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 workflows for t1, got %d", len(got))
	}
}

func TestMemoryWorkflowRepositoryDelete(t *testing.T) {
	r := NewMemoryWorkflowRepository()
	ctx := context.Background()
	r.Save(ctx, testWorkflow("t1", "wf1"))
	if err := r.Delete(ctx, "t1", "wf1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := r.Exists(ctx, "t1", "wf1"); ok {
		t.Fatal("expected workflow to be gone after Delete")
	}
	if err := r.Delete(ctx, "t1", "wf1"); err != nil {
		t.Fatalf("Delete of absent workflow should be a no-op, got %v", err)
	}
}

func testSnapshot(tenantID, executionID string, status workflow.SnapshotStatus) workflow.Snapshot {
	node := "n1"
	return workflow.Snapshot{
		TenantID:      tenantID,
		WorkflowID:    "wf1",
		ExecutionID:   executionID,
		CurrentNodeID: &node,
		Context:       map[string]interface{}{"x": 1},
		Status:        status,
		CreatedAt:     time.Now(),
	}
}

func TestMemoryWorkflowStateRepositorySaveAndLoad(t *testing.T) {
	r := NewMemoryWorkflowStateRepository()
	ctx := context.Background()

	snap := testSnapshot("t1", "exec-1", workflow.StatusCheckpoint)
	if err := r.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := r.LoadSnapshot(ctx, "t1", "exec-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.ExecutionID != "exec-1" || *got.CurrentNodeID != "n1" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if _, err := r.LoadSnapshot(ctx, "t1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.LoadSnapshot(ctx, "other-tenant", "exec-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for wrong tenant, got %v", err)
	}
}

func TestMemoryWorkflowStateRepositoryFindPaused(t *testing.T) {
	r := NewMemoryWorkflowStateRepository()
	ctx := context.Background()
	r.SaveSnapshot(ctx, testSnapshot("t1", "running", workflow.StatusCheckpoint))
	r.SaveSnapshot(ctx, testSnapshot("t1", "paused-1", workflow.StatusPaused))
	r.SaveSnapshot(ctx, testSnapshot("t1", "paused-2", workflow.StatusPaused))
	r.SaveSnapshot(ctx, testSnapshot("t2", "paused-3", workflow.StatusPaused))

	paused, err := r.FindPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("FindPaused: %v", err)
	}
	if len(paused) != 2 {
		t.Fatalf("expected 2 paused executions for t1, got %d", len(paused))
	}
}

func TestMemoryWorkflowStateRepositoryUpdateHeartbeats(t *testing.T) {
	r := NewMemoryWorkflowStateRepository()
	ctx := context.Background()
	r.SaveSnapshot(ctx, testSnapshot("t1", "exec-1", workflow.StatusCheckpoint))
	r.SaveSnapshot(ctx, testSnapshot("t1", "exec-2", workflow.StatusCompleted))

	if err := r.UpdateHeartbeats(ctx, "node-a", []string{"exec-1", "exec-2", "missing"}); err != nil {
		t.Fatalf("UpdateHeartbeats: %v", err)
	}

	got, _ := r.LoadSnapshot(ctx, "t1", "exec-1")
	if got.ServerNodeID == nil || *got.ServerNodeID != "node-a" {
		t.Fatalf("expected exec-1 to be heartbeated, got %+v", got)
	}
	if got.LastHeartbeatAt.IsZero() {
		t.Fatal("expected LastHeartbeatAt to be set")
	}

	completed, _ := r.LoadSnapshot(ctx, "t1", "exec-2")
	if completed.ServerNodeID != nil {
		t.Fatal("terminal execution must not be heartbeated")
	}
}

func TestMemoryWorkflowStateRepositoryClaimStaleExecutions(t *testing.T) {
	r := NewMemoryWorkflowStateRepository()
	ctx := context.Background()

	stale := testSnapshot("t1", "exec-stale", workflow.StatusCheckpoint)
	stale.LastHeartbeatAt = time.Now().Add(-time.Hour)
	r.SaveSnapshot(ctx, stale)

	fresh := testSnapshot("t1", "exec-fresh", workflow.StatusCheckpoint)
	fresh.LastHeartbeatAt = time.Now()
	r.SaveSnapshot(ctx, fresh)

	done := testSnapshot("t1", "exec-done", workflow.StatusCompleted)
	done.LastHeartbeatAt = time.Now().Add(-time.Hour)
	r.SaveSnapshot(ctx, done)

	claimed, err := r.ClaimStaleExecutions(ctx, "node-b", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ClaimStaleExecutions: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != "exec-stale" {
		t.Fatalf("expected only exec-stale claimed, got %v", claimed)
	}

	got, _ := r.LoadSnapshot(ctx, "t1", "exec-stale")
	if got.ServerNodeID == nil || *got.ServerNodeID != "node-b" {
		t.Fatalf("expected exec-stale reassigned to node-b, got %+v", got)
	}
}
