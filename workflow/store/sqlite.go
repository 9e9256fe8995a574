package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowmesh/orchestrator/workflow"
)

// SQLiteStore is a single-file SQLite-backed WorkflowRepository and
// WorkflowStateRepository, grounded on the teacher's own SQLiteStore[S]
// (same WAL/busy-timeout/single-writer connection setup and
// JSON-blob-per-row shape), reshaped around this module's tenant-scoped
// Workflow/Snapshot types instead of the teacher's generic checkpoint rows.
//
// Designed for development, single-process deployments, and tests; a
// multi-process deployment should use MySQLStore instead (SQLite allows
// only one writer at a time).
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and migrates its schema. path may be ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			tenant_id   TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			version     INTEGER NOT NULL,
			definition  TEXT NOT NULL,
			updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, workflow_id)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_snapshots (
			tenant_id         TEXT NOT NULL,
			workflow_id       TEXT NOT NULL,
			execution_id      TEXT NOT NULL,
			status            TEXT NOT NULL,
			payload           TEXT NOT NULL,
			server_node_id    TEXT,
			last_heartbeat_at TIMESTAMP,
			created_at        TIMESTAMP NOT NULL,
			PRIMARY KEY (execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_tenant_status ON workflow_snapshots(tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_heartbeat ON workflow_snapshots(status, last_heartbeat_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements WorkflowRepository.
func (s *SQLiteStore) Save(ctx context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (tenant_id, workflow_id, version, definition, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (tenant_id, workflow_id) DO UPDATE SET
			version = excluded.version,
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP
	`, w.TenantID, w.WorkflowID, w.Version, string(raw))
	return err
}

// FindByID implements WorkflowRepository.
func (s *SQLiteStore) FindByID(ctx context.Context, tenantID, workflowID string) (*workflow.Workflow, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM workflows WHERE tenant_id = ? AND workflow_id = ?
	`, tenantID, workflowID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var w workflow.Workflow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// FindAll implements WorkflowRepository.
func (s *SQLiteStore) FindAll(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM workflows WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var w workflow.Workflow
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// Delete implements WorkflowRepository.
func (s *SQLiteStore) Delete(ctx context.Context, tenantID, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE tenant_id = ? AND workflow_id = ?`, tenantID, workflowID)
	return err
}

// Exists implements WorkflowRepository.
func (s *SQLiteStore) Exists(ctx context.Context, tenantID, workflowID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM workflows WHERE tenant_id = ? AND workflow_id = ?
	`, tenantID, workflowID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveSnapshot implements WorkflowStateRepository. The whole Snapshot is
// stored as one JSON payload (matching the teacher's JSON-blob checkpoint
// rows); status, server_node_id and last_heartbeat_at are also lifted into
// indexed columns so FindPaused/ClaimStaleExecutions do not need to deserialize
// every row to filter.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap workflow.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	var serverNode sql.NullString
	if snap.ServerNodeID != nil {
		serverNode = sql.NullString{String: *snap.ServerNodeID, Valid: true}
	}
	var heartbeat sql.NullTime
	if !snap.LastHeartbeatAt.IsZero() {
		heartbeat = sql.NullTime{Time: snap.LastHeartbeatAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_snapshots
			(tenant_id, workflow_id, execution_id, status, payload, server_node_id, last_heartbeat_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			server_node_id = excluded.server_node_id,
			last_heartbeat_at = excluded.last_heartbeat_at
	`, snap.TenantID, snap.WorkflowID, snap.ExecutionID, string(snap.Status), string(raw), serverNode, heartbeat, snap.CreatedAt)
	return err
}

func scanSnapshot(row interface{ Scan(dest ...interface{}) error }) (workflow.Snapshot, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		return workflow.Snapshot{}, err
	}
	var snap workflow.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return workflow.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// LoadSnapshot implements WorkflowStateRepository.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, tenantID, executionID string) (workflow.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM workflow_snapshots WHERE tenant_id = ? AND execution_id = ?
	`, tenantID, executionID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return workflow.Snapshot{}, ErrNotFound
	}
	return snap, err
}

// FindPaused implements WorkflowStateRepository.
func (s *SQLiteStore) FindPaused(ctx context.Context, tenantID string) ([]workflow.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM workflow_snapshots WHERE tenant_id = ? AND status = ?
	`, tenantID, string(workflow.StatusPaused))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// UpdateHeartbeats implements WorkflowStateRepository / LeaseStore.
func (s *SQLiteStore) UpdateHeartbeats(ctx context.Context, serverNodeID string, executionIDs []string) error {
	if len(executionIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE workflow_snapshots
		SET server_node_id = ?, last_heartbeat_at = ?,
		    payload = json_set(payload, '$.ServerNodeID', ?, '$.LastHeartbeatAt', ?)
		WHERE execution_id = ? AND status = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range executionIDs {
		if _, err := stmt.ExecContext(ctx, serverNodeID, now, serverNodeID, now.Format(time.RFC3339Nano), id, string(workflow.StatusCheckpoint)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClaimStaleExecutions implements WorkflowStateRepository / LeaseStore: a
// transactional select-then-update claims every workflow_snapshots row
// still in the active (non-terminal) status whose heartbeat predates
// staleBefore, reassigning it to claimingNodeID. The transaction makes the
// claim atomic so two concurrent sweepers never both claim the same
// execution (spec.md §4.11).
func (s *SQLiteStore) ClaimStaleExecutions(ctx context.Context, claimingNodeID string, staleBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT execution_id FROM workflow_snapshots
		WHERE status = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)
	`, string(workflow.StatusCheckpoint), staleBefore)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE workflow_snapshots
		SET server_node_id = ?, last_heartbeat_at = ?,
		    payload = json_set(payload, '$.ServerNodeID', ?, '$.LastHeartbeatAt', ?)
		WHERE execution_id = ?
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, claimingNodeID, now, claimingNodeID, now.Format(time.RFC3339Nano), id); err != nil {
			return nil, err
		}
	}

	return ids, tx.Commit()
}
