package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// RetryingStore decorates a WorkflowStore with capped-backoff retries for
// transient failures. The engine does not proceed to its next dispatch
// decision until the current transition is durably recorded, so surviving
// short store outages here keeps the replay invariant intact.
//
// Domain errors (not found, already exists, version conflict) are returned
// immediately; retrying them cannot succeed.
type RetryingStore struct {
	inner    WorkflowStore
	attempts int
	backoff  time.Duration
	logger   *logging.Logger
}

const maxBackoff = 5 * time.Second

// NewRetryingStore wraps inner with up to attempts tries per operation,
// doubling the delay between tries starting from backoff.
func NewRetryingStore(inner WorkflowStore, attempts int, backoff time.Duration, logger *logging.Logger) *RetryingStore {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &RetryingStore{inner: inner, attempts: attempts, backoff: backoff, logger: logger}
}

// CreateWorkflow persists a new workflow.
func (s *RetryingStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	return s.retry(ctx, "create", wf.ID, func() error {
		return s.inner.CreateWorkflow(ctx, wf)
	})
}

// GetWorkflow retrieves a workflow by its id.
func (s *RetryingStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var wf *models.Workflow
	err := s.retry(ctx, "get", id, func() error {
		var innerErr error
		wf, innerErr = s.inner.GetWorkflow(ctx, id)
		return innerErr
	})
	return wf, err
}

// UpdateWorkflow persists a state transition.
func (s *RetryingStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	return s.retry(ctx, "update", wf.ID, func() error {
		return s.inner.UpdateWorkflow(ctx, wf)
	})
}

// ListWorkflows returns matching workflows.
func (s *RetryingStore) ListWorkflows(ctx context.Context, filter ListFilter) ([]*models.Workflow, int, error) {
	var (
		out   []*models.Workflow
		total int
	)
	err := s.retry(ctx, "list", "", func() error {
		var innerErr error
		out, total, innerErr = s.inner.ListWorkflows(ctx, filter)
		return innerErr
	})
	return out, total, err
}

func (s *RetryingStore) retry(ctx context.Context, op, id string, fn func() error) error {
	delay := s.backoff
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = fn()
		if err == nil || isPermanent(err) {
			return err
		}
		if attempt == s.attempts {
			break
		}
		if s.logger != nil {
			s.logger.Warn("store operation failed, retrying", "op", op, "workflow", id, "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return err
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrVersionConflict)
}
