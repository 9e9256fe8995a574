package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flowmesh/orchestrator/workflow"
)

// MySQLStore is a MySQL/MariaDB-backed WorkflowRepository and
// WorkflowStateRepository, grounded on the teacher's own MySQLStore[S]
// (same connection-pool tuning and ping-on-open) but reshaped around this
// module's tenant-scoped Workflow/Snapshot types. Intended for production,
// multi-process deployments where ClaimStaleExecutions must be race-free
// across concurrent orchestrator nodes (spec.md §4.11).
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn (see
// github.com/go-sql-driver/mysql for the DSN format) and migrates its
// schema. dsn should include `?parseTime=true` so TIMESTAMP columns scan
// into time.Time directly.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			tenant_id   VARCHAR(255) NOT NULL,
			workflow_id VARCHAR(255) NOT NULL,
			version     INT NOT NULL,
			definition  JSON NOT NULL,
			updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, workflow_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS workflow_snapshots (
			tenant_id         VARCHAR(255) NOT NULL,
			workflow_id       VARCHAR(255) NOT NULL,
			execution_id      VARCHAR(255) NOT NULL,
			status            VARCHAR(32) NOT NULL,
			payload           JSON NOT NULL,
			server_node_id    VARCHAR(255),
			last_heartbeat_at TIMESTAMP NULL,
			created_at        TIMESTAMP NOT NULL,
			PRIMARY KEY (execution_id),
			INDEX idx_tenant_status (tenant_id, status),
			INDEX idx_status_heartbeat (status, last_heartbeat_at)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Save implements WorkflowRepository.
func (s *MySQLStore) Save(ctx context.Context, w *workflow.Workflow) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (tenant_id, workflow_id, version, definition)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE version = VALUES(version), definition = VALUES(definition)
	`, w.TenantID, w.WorkflowID, w.Version, string(raw))
	return err
}

// FindByID implements WorkflowRepository.
func (s *MySQLStore) FindByID(ctx context.Context, tenantID, workflowID string) (*workflow.Workflow, error) {
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
func (s *MySQLStore) FindAll(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
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
func (s *MySQLStore) Delete(ctx context.Context, tenantID, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE tenant_id = ? AND workflow_id = ?`, tenantID, workflowID)
	return err
}

// Exists implements WorkflowRepository.
func (s *MySQLStore) Exists(ctx context.Context, tenantID, workflowID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM workflows WHERE tenant_id = ? AND workflow_id = ?
	`, tenantID, workflowID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveSnapshot implements WorkflowStateRepository.
func (s *MySQLStore) SaveSnapshot(ctx context.Context, snap workflow.Snapshot) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			payload = VALUES(payload),
			server_node_id = VALUES(server_node_id),
			last_heartbeat_at = VALUES(last_heartbeat_at)
	`, snap.TenantID, snap.WorkflowID, snap.ExecutionID, string(snap.Status), string(raw), serverNode, heartbeat, snap.CreatedAt)
	return err
}

func scanMySQLSnapshot(row interface{ Scan(dest ...interface{}) error }) (workflow.Snapshot, error) {
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
func (s *MySQLStore) LoadSnapshot(ctx context.Context, tenantID, executionID string) (workflow.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM workflow_snapshots WHERE tenant_id = ? AND execution_id = ?
	`, tenantID, executionID)
	snap, err := scanMySQLSnapshot(row)
	if err == sql.ErrNoRows {
		return workflow.Snapshot{}, ErrNotFound
	}
	return snap, err
}

// FindPaused implements WorkflowStateRepository.
func (s *MySQLStore) FindPaused(ctx context.Context, tenantID string) ([]workflow.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM workflow_snapshots WHERE tenant_id = ? AND status = ?
	`, tenantID, string(workflow.StatusPaused))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Snapshot
	for rows.Next() {
		snap, err := scanMySQLSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// UpdateHeartbeats implements WorkflowStateRepository / LeaseStore.
func (s *MySQLStore) UpdateHeartbeats(ctx context.Context, serverNodeID string, executionIDs []string) error {
	if len(executionIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE workflow_snapshots
		SET server_node_id = ?, last_heartbeat_at = ?,
		    payload = JSON_SET(payload, '$.ServerNodeID', ?, '$.LastHeartbeatAt', ?)
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

// ClaimStaleExecutions implements WorkflowStateRepository / LeaseStore.
// SELECT ... FOR UPDATE inside the transaction locks the candidate rows so
// two orchestrator nodes racing the same sweep never both claim the same
// execution (spec.md §4.11's race-free sweep requirement, sharper here than
// SQLite's single-writer guarantee already provides).
func (s *MySQLStore) ClaimStaleExecutions(ctx context.Context, claimingNodeID string, staleBefore time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT execution_id FROM workflow_snapshots
		WHERE status = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)
		FOR UPDATE
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
		    payload = JSON_SET(payload, '$.ServerNodeID', ?, '$.LastHeartbeatAt', ?)
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
