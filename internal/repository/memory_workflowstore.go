package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// MemoryWorkflowStore is an in-memory WorkflowStore used by tests and the
// memory backend. It applies the same optimistic version guard as the
// database-backed stores.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

// NewMemoryWorkflowStore creates a new MemoryWorkflowStore.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*models.Workflow)}
}

// CreateWorkflow persists a new workflow.
func (s *MemoryWorkflowStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; ok {
		return ErrAlreadyExists
	}
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// GetWorkflow retrieves a workflow by its id.
func (s *MemoryWorkflowStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wf.Clone(), nil
}

// UpdateWorkflow persists a state transition, guarded by wf.Version.
func (s *MemoryWorkflowStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.workflows[wf.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != wf.Version {
		return ErrVersionConflict
	}
	wf.Version++
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// ListWorkflows returns matching workflows, newest first.
func (s *MemoryWorkflowStore) ListWorkflows(ctx context.Context, filter ListFilter) ([]*models.Workflow, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Workflow
	for _, wf := range s.workflows {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		matched = append(matched, wf)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.Workflow, len(matched))
	for i, wf := range matched {
		out[i] = wf.Clone()
	}
	return out, total, nil
}
