// Package api contains the HTTP handlers for the orchestrator REST API.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/engine"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/repository"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/services"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine  *engine.Orchestrator
	History *services.HistoryService
}

// NewServer creates a new Server.
func NewServer(eng *engine.Orchestrator, history *services.HistoryService) *Server {
	return &Server{Engine: eng, History: history}
}

// RegisterHandlers mounts the REST surface on the echo instance.
func (s *Server) RegisterHandlers(e *echo.Echo) {
	e.GET("/health", s.HandleHealth)

	g := e.Group("/api/v1")
	g.POST("/workflows", s.CreateWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.GET("/workflows/:id/stats", s.GetWorkflowStats)
	g.POST("/workflows/:id/start", s.StartWorkflow)
	g.POST("/workflows/:id/approve", s.ApproveStep)
	g.POST("/workflows/:id/deny", s.DenyStep)
	g.POST("/workflows/:id/pause", s.PauseWorkflow)
	g.POST("/workflows/:id/resume", s.ResumeWorkflow)
	g.POST("/workflows/:id/cancel", s.CancelWorkflow)
}

// CreateWorkflowRequest is the body for POST /api/v1/workflows.
type CreateWorkflowRequest struct {
	Workflow  *models.Workflow `json:"workflow"`
	AutoStart bool             `json:"auto_start"`
}

// DecisionRequest is the body for the approve and deny endpoints.
type DecisionRequest struct {
	StepID    string `json:"step_id"`
	UserInput string `json:"user_input,omitempty"`
}

// LifecycleResponse reports whether an idempotent operation changed
// anything, plus the resulting snapshot.
type LifecycleResponse struct {
	Applied  bool             `json:"applied"`
	Workflow *models.Workflow `json:"workflow"`
}

// CreateWorkflow validates and persists a new workflow
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request body", err.Error())
	}
	if req.Workflow == nil {
		return problem(c, http.StatusBadRequest, "invalid request body", "missing workflow")
	}

	wf, err := s.Engine.Create(ctx, req.Workflow, req.AutoStart)
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow returns the current snapshot of one workflow
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows returns a page of workflow history
// (GET /api/v1/workflows?status=&page=&per_page=)
func (s *Server) ListWorkflows(c echo.Context) error {
	status := models.WorkflowStatus(c.QueryParam("status"))
	page := intQueryParam(c, "page", 1)
	perPage := intQueryParam(c, "per_page", 0)

	result, err := s.History.List(c.Request().Context(), status, page, perPage)
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetWorkflowStats returns aggregated run statistics
// (GET /api/v1/workflows/:id/stats)
func (s *Server) GetWorkflowStats(c echo.Context) error {
	stats, err := s.History.Stats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// StartWorkflow begins executing a planned workflow
// (POST /api/v1/workflows/:id/start)
func (s *Server) StartWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := s.Engine.Start(ctx, id); err != nil {
		return workflowError(c, err)
	}
	wf, err := s.Engine.Get(ctx, id)
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ApproveStep resolves a waiting step positively
// (POST /api/v1/workflows/:id/approve)
func (s *Server) ApproveStep(c echo.Context) error {
	return s.resolveStep(c, true)
}

// DenyStep resolves a waiting step negatively; the step is skipped and its
// dependents cascade
// (POST /api/v1/workflows/:id/deny)
func (s *Server) DenyStep(c echo.Context) error {
	return s.resolveStep(c, false)
}

func (s *Server) resolveStep(c echo.Context, approve bool) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "invalid request body", err.Error())
	}
	if req.StepID == "" {
		return problem(c, http.StatusBadRequest, "invalid request body", "missing step_id")
	}

	var (
		applied bool
		err     error
	)
	if approve {
		applied, err = s.Engine.Approve(ctx, id, req.StepID, req.UserInput)
	} else {
		applied, err = s.Engine.Deny(ctx, id, req.StepID, req.UserInput)
	}
	if err != nil {
		return workflowError(c, err)
	}
	return s.lifecycleResponse(c, id, applied)
}

// PauseWorkflow stops dispatching new steps
// (POST /api/v1/workflows/:id/pause)
func (s *Server) PauseWorkflow(c echo.Context) error {
	return s.lifecycle(c, s.Engine.Pause)
}

// ResumeWorkflow re-enters the dispatch loop from paused
// (POST /api/v1/workflows/:id/resume)
func (s *Server) ResumeWorkflow(c echo.Context) error {
	return s.lifecycle(c, s.Engine.Resume)
}

// CancelWorkflow cancels a workflow; in-flight steps drain naturally
// (POST /api/v1/workflows/:id/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	return s.lifecycle(c, s.Engine.Cancel)
}

func (s *Server) lifecycle(c echo.Context, op func(ctx context.Context, id string) (bool, error)) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	applied, err := op(ctx, id)
	if err != nil {
		return workflowError(c, err)
	}
	return s.lifecycleResponse(c, id, applied)
}

func (s *Server) lifecycleResponse(c echo.Context, id string, applied bool) error {
	wf, err := s.Engine.Get(c.Request().Context(), id)
	if err != nil {
		return workflowError(c, err)
	}
	return c.JSON(http.StatusOK, LifecycleResponse{Applied: applied, Workflow: wf})
}

func workflowError(c echo.Context, err error) error {
	var cycleErr *models.CycleError
	var validationErr *models.ValidationError

	switch {
	case errors.As(err, &cycleErr), errors.As(err, &validationErr):
		return problem(c, http.StatusBadRequest, "invalid workflow", err.Error())
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, engine.ErrStepNotFound):
		return problem(c, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, repository.ErrAlreadyExists):
		return problem(c, http.StatusConflict, "already exists", err.Error())
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrNotWaiting),
		errors.Is(err, engine.ErrNotActive):
		return problem(c, http.StatusConflict, "invalid operation", err.Error())
	default:
		return problem(c, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
