package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/workflow"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteWorkflowRepositorySaveAndFind(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testWorkflow("t1", "wf1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.FindByID(ctx, "t1", "wf1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.WorkflowID != "wf1" || got.StartNode != "start" {
		t.Fatalf("unexpected workflow: %+v", got)
	}

	if _, err := s.FindByID(ctx, "t1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteWorkflowRepositoryUpsertOnSave(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	wf := testWorkflow("t1", "wf1")
	s.Save(ctx, wf)

	wf.Version = 2
	wf.StartNode = "other"
	if err := s.Save(ctx, wf); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, err := s.FindByID(ctx, "t1", "wf1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Version != 2 || got.StartNode != "other" {
		t.Fatalf("expected upsert to replace definition, got %+v", got)
	}
}

func TestSQLiteWorkflowRepositoryFindAllAndDelete(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	s.Save(ctx, testWorkflow("t1", "a"))
	s.Save(ctx, testWorkflow("t1", "b"))
	s.Save(ctx, testWorkflow("t2", "c"))

	all, err := s.FindAll(ctx, "t1")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 workflows, got %d", len(all))
	}

	if err := s.Delete(ctx, "t1", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "t1", "a"); ok {
		t.Fatal("expected workflow to be gone after Delete")
	}
}

func TestSQLiteWorkflowStateRepositorySnapshotRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	snap := testSnapshot("t1", "exec-1", workflow.StatusCheckpoint)
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, "t1", "exec-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.ExecutionID != "exec-1" || got.Context["x"].(float64) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if _, err := s.LoadSnapshot(ctx, "t1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteWorkflowStateRepositoryFindPaused(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	s.SaveSnapshot(ctx, testSnapshot("t1", "running", workflow.StatusCheckpoint))
	s.SaveSnapshot(ctx, testSnapshot("t1", "paused-1", workflow.StatusPaused))
	s.SaveSnapshot(ctx, testSnapshot("t1", "paused-2", workflow.StatusPaused))

	paused, err := s.FindPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("FindPaused: %v", err)
	}
	if len(paused) != 2 {
		t.Fatalf("expected 2 paused executions, got %d", len(paused))
	}
}

func TestSQLiteWorkflowStateRepositoryClaimStaleExecutions(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	stale := testSnapshot("t1", "exec-stale", workflow.StatusCheckpoint)
	stale.LastHeartbeatAt = time.Now().Add(-time.Hour)
	s.SaveSnapshot(ctx, stale)

	fresh := testSnapshot("t1", "exec-fresh", workflow.StatusCheckpoint)
	fresh.LastHeartbeatAt = time.Now()
	s.SaveSnapshot(ctx, fresh)

	done := testSnapshot("t1", "exec-done", workflow.StatusCompleted)
	done.LastHeartbeatAt = time.Now().Add(-time.Hour)
	s.SaveSnapshot(ctx, done)

	claimed, err := s.ClaimStaleExecutions(ctx, "node-b", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ClaimStaleExecutions: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != "exec-stale" {
		t.Fatalf("expected only exec-stale claimed, got %v", claimed)
	}

	got, err := s.LoadSnapshot(ctx, "t1", "exec-stale")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.ServerNodeID == nil || *got.ServerNodeID != "node-b" {
		t.Fatalf("expected exec-stale reassigned to node-b, got %+v", got)
	}
}

func TestSQLiteWorkflowStateRepositoryUpdateHeartbeats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	s.SaveSnapshot(ctx, testSnapshot("t1", "exec-1", workflow.StatusCheckpoint))

	if err := s.UpdateHeartbeats(ctx, "node-a", []string{"exec-1"}); err != nil {
		t.Fatalf("UpdateHeartbeats: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, "t1", "exec-1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.ServerNodeID == nil || *got.ServerNodeID != "node-a" {
		t.Fatalf("expected exec-1 heartbeated to node-a, got %+v", got)
	}
}
