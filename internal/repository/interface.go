package repository

import (
	"context"
	"errors"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

var (
	// ErrNotFound is returned when no workflow exists for the given id.
	ErrNotFound = errors.New("workflow not found")

	// ErrAlreadyExists is returned when creating a workflow whose id is taken.
	ErrAlreadyExists = errors.New("workflow already exists")

	// ErrVersionConflict is returned when an update loses the optimistic
	// concurrency race. The engine is the single writer per workflow, so in
	// practice this indicates a second controller replaying stale state.
	ErrVersionConflict = errors.New("workflow version conflict")
)

// ListFilter selects workflows from the store. Zero values mean "no filter".
type ListFilter struct {
	Status models.WorkflowStatus
	Limit  int
	Offset int
}

// WorkflowStore durably records workflow and step state across restarts.
// Implementations own durability but not business rules: callers decide what
// a valid transition is.
//
// UpdateWorkflow is guarded by the workflow's optimistic version counter and
// bumps it on success. Combined with the engine persisting every transition
// before the next dispatch decision, this makes crash replay safe: dispatch
// is at-least-once and executors must tolerate a duplicate invocation for
// the same step.
type WorkflowStore interface {
	// CreateWorkflow persists a new workflow.
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	// GetWorkflow retrieves a workflow by its id.
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// UpdateWorkflow persists a state transition, guarded by wf.Version.
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	// ListWorkflows returns matching workflows ordered by creation time
	// (newest first) along with the total match count before paging.
	ListWorkflows(ctx context.Context, filter ListFilter) ([]*models.Workflow, int, error)
}
