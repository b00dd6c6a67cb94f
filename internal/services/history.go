// Package services holds the read-side query layer over the workflow store.
package services

import (
	"context"
	"fmt"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/repository"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// WorkflowPage is one page of workflow history.
type WorkflowPage struct {
	Workflows []*models.Workflow `json:"workflows"`
	Total     int                `json:"total"`
	Page      int                `json:"page"`
	PerPage   int                `json:"per_page"`
}

// HistoryService answers queries over past and present workflows. It reads
// straight from the store, so listings may trail the live scheduler state by
// one persistence round.
type HistoryService struct {
	store repository.WorkflowStore
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(store repository.WorkflowStore) *HistoryService {
	return &HistoryService{store: store}
}

// List returns a page of workflows, newest first, optionally filtered by
// status. Page numbering starts at 1; out-of-range pages return an empty
// page with the real total, never an error.
func (s *HistoryService) List(ctx context.Context, status models.WorkflowStatus, page, perPage int) (*WorkflowPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	wfs, total, err := s.store.ListWorkflows(ctx, repository.ListFilter{
		Status: status,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	return &WorkflowPage{
		Workflows: wfs,
		Total:     total,
		Page:      page,
		PerPage:   perPage,
	}, nil
}

// Stats aggregates per-status step counts and timing for one workflow.
func (s *HistoryService) Stats(ctx context.Context, id string) (*models.WorkflowStats, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return wf.Stats(), nil
}
