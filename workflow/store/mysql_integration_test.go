package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/flowmesh/orchestrator/workflow"
)

// newTestMySQLStore connects to the MySQL instance named by MYSQL_TEST_DSN
// and skips the test when it is unset, so these integration tests only run
// against a real database the operator has opted into (no container
// management here).
func newTestMySQLStore(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set, skipping MySQL integration test")
	}
	s, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	t.Cleanup(func() {
		s.db.Exec("DELETE FROM workflows")
		s.db.Exec("DELETE FROM workflow_snapshots")
		s.Close()
	})
	return s
}

func TestMySQLWorkflowRepositorySaveAndFind(t *testing.T) {
	s := newTestMySQLStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testWorkflow("t1", "wf1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.FindByID(ctx, "t1", "wf1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.WorkflowID != "wf1" {
		t.Fatalf("unexpected workflow: %+v", got)
	}
}

func TestMySQLWorkflowStateRepositoryClaimStaleExecutions(t *testing.T) {
	s := newTestMySQLStore(t)
	ctx := context.Background()

	stale := testSnapshot("t1", "exec-stale-mysql", workflow.StatusCheckpoint)
	stale.LastHeartbeatAt = time.Now().Add(-time.Hour)
	if err := s.SaveSnapshot(ctx, stale); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	claimed, err := s.ClaimStaleExecutions(ctx, "node-b", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ClaimStaleExecutions: %v", err)
	}
	found := false
	for _, id := range claimed {
		if id == "exec-stale-mysql" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected exec-stale-mysql among claimed, got %v", claimed)
	}
}
