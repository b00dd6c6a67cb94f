package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface. Steps and the involved-agent list are stored as JSONB alongside
// the scalar workflow columns.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// InitSchema creates the workflows table if it does not exist.
func (s *PostgresWorkflowStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		classification TEXT NOT NULL,
		status TEXT NOT NULL,
		automation_mode TEXT NOT NULL,
		current_step INT NOT NULL DEFAULT 0,
		steps JSONB NOT NULL,
		agents_involved JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		version INT NOT NULL DEFAULT 0
	)`)
	return err
}

// CreateWorkflow persists a new workflow.
func (s *PostgresWorkflowStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	steps, agents, err := encodeJSONFields(wf)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO workflows
		(id, name, description, classification, status, automation_mode, current_step, steps, agents_involved, created_at, started_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		wf.ID, wf.Name, wf.Description, wf.Classification, wf.Status, wf.AutomationMode,
		wf.CurrentStep, steps, agents, wf.CreatedAt, wf.StartedAt, wf.CompletedAt, wf.Version)
	if err != nil && isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetWorkflow retrieves a workflow by its id.
func (s *PostgresWorkflowStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, description, classification, status, automation_mode, current_step, steps, agents_involved, created_at, started_at, completed_at, version
		FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wf, err
}

// UpdateWorkflow persists a state transition, guarded by wf.Version.
func (s *PostgresWorkflowStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	steps, agents, err := encodeJSONFields(wf)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE workflows
		SET name = $1, description = $2, classification = $3, status = $4, automation_mode = $5,
		    current_step = $6, steps = $7, agents_involved = $8, started_at = $9, completed_at = $10,
		    version = version + 1
		WHERE id = $11 AND version = $12`,
		wf.Name, wf.Description, wf.Classification, wf.Status, wf.AutomationMode,
		wf.CurrentStep, steps, agents, wf.StartedAt, wf.CompletedAt, wf.ID, wf.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetWorkflow(ctx, wf.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	wf.Version++
	return nil
}

// ListWorkflows returns matching workflows, newest first.
func (s *PostgresWorkflowStore) ListWorkflows(ctx context.Context, filter ListFilter) ([]*models.Workflow, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Status != "" {
		where = "WHERE status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT id, name, description, classification, status, automation_mode, current_step, steps, agents_involved, created_at, started_at, completed_at, version
		FROM workflows %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	var limit interface{}
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	// LIMIT NULL means no limit.
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, total, rows.Err()
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		wf     models.Workflow
		steps  []byte
		agents []byte
	)
	err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Classification, &wf.Status,
		&wf.AutomationMode, &wf.CurrentStep, &steps, &agents,
		&wf.CreatedAt, &wf.StartedAt, &wf.CompletedAt, &wf.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for workflow %s: %w", wf.ID, err)
	}
	if err := json.Unmarshal(agents, &wf.AgentsInvolved); err != nil {
		return nil, fmt.Errorf("decode agents for workflow %s: %w", wf.ID, err)
	}
	return &wf, nil
}

func encodeJSONFields(wf *models.Workflow) ([]byte, []byte, error) {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode steps for workflow %s: %w", wf.ID, err)
	}
	agents := wf.AgentsInvolved
	if agents == nil {
		agents = []string{}
	}
	agentsJSON, err := json.Marshal(agents)
	if err != nil {
		return nil, nil, fmt.Errorf("encode agents for workflow %s: %w", wf.ID, err)
	}
	return steps, agentsJSON, nil
}

func isUniqueViolation(err error) bool {
	// 23505 is the Postgres unique_violation code.
	type sqlState interface{ SQLState() string }
	var se sqlState
	return errors.As(err, &se) && se.SQLState() == "23505"
}
