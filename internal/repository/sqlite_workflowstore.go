package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// SQLiteWorkflowStore is a WorkflowStore backed by SQLite, intended for
// single-node and local development deployments.
//
// It expects an *sql.DB opened with a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteWorkflowStore struct {
	db *sql.DB
}

// Ensure SQLiteWorkflowStore implements WorkflowStore.
var _ WorkflowStore = (*SQLiteWorkflowStore)(nil)

// NewSQLiteWorkflowStore initializes the required schema in the given
// database and returns a new SQLiteWorkflowStore.
func NewSQLiteWorkflowStore(db *sql.DB) (*SQLiteWorkflowStore, error) {
	s := &SQLiteWorkflowStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteWorkflowStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			classification TEXT NOT NULL,
			status TEXT NOT NULL,
			automation_mode TEXT NOT NULL,
			current_step INTEGER NOT NULL DEFAULT 0,
			steps BLOB NOT NULL,
			agents_involved BLOB NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			version INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

// CreateWorkflow persists a new workflow.
func (s *SQLiteWorkflowStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	steps, agents, err := encodeJSONFields(wf)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, classification, status, automation_mode, current_step, steps, agents_involved, created_at, started_at, completed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Description, string(wf.Classification), string(wf.Status),
		string(wf.AutomationMode), wf.CurrentStep, steps, agents,
		encodeTime(&wf.CreatedAt), encodeTime(wf.StartedAt), encodeTime(wf.CompletedAt), wf.Version)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrAlreadyExists
	}
	return err
}

// GetWorkflow retrieves a workflow by its id.
func (s *SQLiteWorkflowStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, classification, status, automation_mode, current_step, steps, agents_involved, created_at, started_at, completed_at, version
		FROM workflows WHERE id = ?`, id)
	wf, err := s.scan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

// UpdateWorkflow persists a state transition, guarded by wf.Version.
func (s *SQLiteWorkflowStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	steps, agents, err := encodeJSONFields(wf)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = ?, description = ?, classification = ?, status = ?, automation_mode = ?,
		    current_step = ?, steps = ?, agents_involved = ?, started_at = ?, completed_at = ?,
		    version = version + 1
		WHERE id = ? AND version = ?`,
		wf.Name, wf.Description, string(wf.Classification), string(wf.Status),
		string(wf.AutomationMode), wf.CurrentStep, steps, agents,
		encodeTime(wf.StartedAt), encodeTime(wf.CompletedAt), wf.ID, wf.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetWorkflow(ctx, wf.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	wf.Version++
	return nil
}

// ListWorkflows returns matching workflows, newest first.
func (s *SQLiteWorkflowStore) ListWorkflows(ctx context.Context, filter ListFilter) ([]*models.Workflow, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Status != "" {
		where = "WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, classification, status, automation_mode, current_step, steps, agents_involved, created_at, started_at, completed_at, version
		FROM workflows `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := s.scan(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, total, rows.Err()
}

func (s *SQLiteWorkflowStore) scan(scan func(dest ...interface{}) error) (*models.Workflow, error) {
	var (
		wf        models.Workflow
		steps     []byte
		agents    []byte
		created   string
		started   sql.NullString
		completed sql.NullString
	)
	err := scan(&wf.ID, &wf.Name, &wf.Description, &wf.Classification, &wf.Status,
		&wf.AutomationMode, &wf.CurrentStep, &steps, &agents,
		&created, &started, &completed, &wf.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for workflow %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal(agents, &wf.AgentsInvolved); err != nil {
		return nil, fmt.Errorf("decode agents for workflow %s: %w", wf.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("decode created_at for workflow %s: %w", wf.ID, err)
	}
	wf.CreatedAt = createdAt
	if wf.StartedAt, err = decodeTime(started); err != nil {
		return nil, fmt.Errorf("decode started_at for workflow %s: %w", wf.ID, err)
	}
	if wf.CompletedAt, err = decodeTime(completed); err != nil {
		return nil, fmt.Errorf("decode completed_at for workflow %s: %w", wf.ID, err)
	}
	return &wf, nil
}

func encodeTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
