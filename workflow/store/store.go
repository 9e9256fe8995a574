// Package store provides tenant-scoped persistence for workflow
// definitions and execution snapshots, with memory, SQLite, and MySQL
// backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flowmesh/orchestrator/workflow"
)

// ErrNotFound is returned when a tenant-scoped lookup has no match.
var ErrNotFound = errors.New("not found")

// WorkflowRepository persists Workflow definitions, keyed by
// (tenantID, workflowID).
type WorkflowRepository interface {
	Save(ctx context.Context, w *workflow.Workflow) error
	FindByID(ctx context.Context, tenantID, workflowID string) (*workflow.Workflow, error)
	FindAll(ctx context.Context, tenantID string) ([]*workflow.Workflow, error)
	Delete(ctx context.Context, tenantID, workflowID string) error
	Exists(ctx context.Context, tenantID, workflowID string) (bool, error)
}

// WorkflowStateRepository persists execution Snapshots and the lease
// bookkeeping the distributed recovery sweeper depends on (spec.md §4.11).
// Method names match workflow.SnapshotStore and workflow.LeaseStore exactly
// so any implementation satisfies both without an adapter.
type WorkflowStateRepository interface {
	SaveSnapshot(ctx context.Context, snap workflow.Snapshot) error
	LoadSnapshot(ctx context.Context, tenantID, executionID string) (workflow.Snapshot, error)
	FindPaused(ctx context.Context, tenantID string) ([]workflow.Snapshot, error)

	UpdateHeartbeats(ctx context.Context, serverNodeID string, executionIDs []string) error
	ClaimStaleExecutions(ctx context.Context, claimingNodeID string, staleBefore time.Time) ([]string, error)
}
