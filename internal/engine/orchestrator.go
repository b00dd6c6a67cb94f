// Package engine implements the workflow orchestration core: dependency
// resolution, strategy-driven dispatch, the human approval gate and the
// per-workflow scheduler loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/executor"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/notify"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/repository"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

var (
	// ErrStepNotFound is returned when a decision names an unknown step.
	ErrStepNotFound = errors.New("step not found in workflow")

	// ErrNotWaiting is returned when a decision targets a step the gate
	// never admitted.
	ErrNotWaiting = errors.New("step is not waiting for approval")

	// ErrInvalidTransition is returned for lifecycle operations the current
	// workflow status does not allow.
	ErrInvalidTransition = errors.New("invalid workflow lifecycle transition")

	// ErrNotActive is returned when an operation needs a running scheduler
	// but the workflow has none (for example after a restart without
	// Recover).
	ErrNotActive = errors.New("workflow is not active")
)

// Config carries the engine tuning knobs.
type Config struct {
	// MaxParallel bounds concurrent dispatch for the parallel, pipeline and
	// collaborative strategies.
	MaxParallel int
	// AdaptivePromoteAfter is the number of consecutive low-risk successes
	// before the adaptive strategy upgrades to parallel dispatch. The
	// trigger is a heuristic, not a correctness guarantee.
	AdaptivePromoteAfter int
}

func (c *Config) applyDefaults() {
	if c.MaxParallel < 1 {
		c.MaxParallel = 4
	}
	if c.AdaptivePromoteAfter < 1 {
		c.AdaptivePromoteAfter = 2
	}
}

// Orchestrator owns workflow lifecycles: it validates and persists new
// workflows, runs one scheduler per active workflow and routes approval
// decisions and lifecycle operations to them. It is the sole mutator of
// workflow state; everything handed out is a snapshot.
type Orchestrator struct {
	store  repository.WorkflowStore
	exec   executor.StepExecutor
	gate   *approvalGate
	logger *logging.Logger
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	scheds map[string]*scheduler
}

// New creates an Orchestrator.
func New(store repository.WorkflowStore, exec executor.StepExecutor, notifier notify.Notifier, logger *logging.Logger, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  store,
		exec:   exec,
		gate:   &approvalGate{notifier: notifier, logger: logger},
		logger: logger,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		scheds: make(map[string]*scheduler),
	}
}

// Create validates and persists a new workflow. Validation is fail-fast: an
// invalid graph (cycle, duplicate step id, dangling predecessor) is rejected
// before any state is created. With autoStart the workflow begins executing
// immediately.
func (o *Orchestrator) Create(ctx context.Context, wf *models.Workflow, autoStart bool) (*models.Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if err := o.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("persist workflow %s: %w", wf.ID, err)
	}
	o.logger.Info("workflow created", "workflow", wf.ID, "name", wf.Name, "mode", wf.AutomationMode, "steps", len(wf.Steps))

	if autoStart {
		if err := o.Start(ctx, wf.ID); err != nil {
			return nil, err
		}
	}
	return o.Get(ctx, wf.ID)
}

// Start moves a planned workflow to executing and spins its scheduler.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.scheds[id]; ok {
		return fmt.Errorf("%w: workflow %s is already running", ErrInvalidTransition, id)
	}
	wf, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status != models.WorkflowPlanned {
		return fmt.Errorf("%w: cannot start workflow in status %s", ErrInvalidTransition, wf.Status)
	}

	now := time.Now().UTC()
	wf.Status = models.WorkflowExecuting
	wf.StartedAt = &now
	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("persist workflow %s: %w", id, err)
	}

	o.spawnLocked(wf)
	o.logger.Info("workflow started", "workflow", id)
	return nil
}

// Pause stops dispatching new steps for the workflow. In-flight and waiting
// steps finish or resolve naturally.
func (o *Orchestrator) Pause(ctx context.Context, id string) (bool, error) {
	if s := o.getSched(id); s != nil {
		return s.pause()
	}
	wf, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	if wf.Status == models.WorkflowPaused {
		return false, nil
	}
	return false, fmt.Errorf("%w: cannot pause workflow in status %s", ErrInvalidTransition, wf.Status)
}

// Resume re-enters the dispatch loop from paused. It also covers the restart
// path: a paused workflow with no live scheduler gets a fresh one.
func (o *Orchestrator) Resume(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Lock order is always o.mu then s.mu, so delegating under o.mu is safe.
	if s, ok := o.scheds[id]; ok {
		return s.resume()
	}

	wf, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	if wf.Status == models.WorkflowExecuting {
		// Executing but not scheduled: recover rather than resume.
		o.spawnLocked(wf)
		return false, nil
	}
	if wf.Status != models.WorkflowPaused {
		return false, fmt.Errorf("%w: cannot resume workflow in status %s", ErrInvalidTransition, wf.Status)
	}
	wf.Status = models.WorkflowExecuting
	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return false, fmt.Errorf("persist workflow %s: %w", id, err)
	}
	o.spawnLocked(wf)
	o.logger.Info("workflow resumed", "workflow", id)
	return true, nil
}

// Cancel stops all future dispatch, skips every step that has not started
// and lets in-flight steps drain. Idempotent: a second cancel is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	if s := o.getSched(id); s != nil {
		return s.cancelRun()
	}

	wf, err := o.store.GetWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	if wf.Status.Terminal() {
		return false, nil
	}
	for _, st := range wf.Steps {
		switch st.Status {
		case models.StepPending, models.StepWaitingApproval:
			st.Status = models.StepSkipped
			st.SkipReason = models.SkipReasonCancelled
		}
	}
	now := time.Now().UTC()
	wf.Status = models.WorkflowCancelled
	wf.CompletedAt = &now
	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return false, fmt.Errorf("persist workflow %s: %w", id, err)
	}
	o.logger.Info("workflow cancelled", "workflow", id)
	return true, nil
}

// Approve applies a positive decision to a waiting step.
func (o *Orchestrator) Approve(ctx context.Context, workflowID, stepID, userInput string) (bool, error) {
	return o.Resolve(ctx, models.ApprovalDecision{
		WorkflowID: workflowID,
		StepID:     stepID,
		Approved:   true,
		UserInput:  userInput,
		Timestamp:  time.Now().UTC(),
	})
}

// Deny applies a negative decision to a waiting step. The step is skipped,
// not failed, and its dependents cascade.
func (o *Orchestrator) Deny(ctx context.Context, workflowID, stepID, userInput string) (bool, error) {
	return o.Resolve(ctx, models.ApprovalDecision{
		WorkflowID: workflowID,
		StepID:     stepID,
		Approved:   false,
		UserInput:  userInput,
		Timestamp:  time.Now().UTC(),
	})
}

// Resolve consumes an approval decision exactly once. A decision for an
// already-resolved step reports applied=false with no error.
func (o *Orchestrator) Resolve(ctx context.Context, d models.ApprovalDecision) (bool, error) {
	if s := o.getSched(d.WorkflowID); s != nil {
		return s.resolve(d)
	}

	wf, err := o.store.GetWorkflow(ctx, d.WorkflowID)
	if err != nil {
		return false, err
	}
	st := wf.StepByID(d.StepID)
	if st == nil {
		return false, ErrStepNotFound
	}
	if st.Status.Terminal() || st.Status == models.StepExecuting {
		return false, nil
	}
	return false, fmt.Errorf("%w: workflow %s", ErrNotActive, d.WorkflowID)
}

// Get returns a point-in-time snapshot of the workflow: the live scheduler
// state when active, otherwise the persisted record.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Workflow, error) {
	if s := o.getSched(id); s != nil {
		return s.snapshot(), nil
	}
	return o.store.GetWorkflow(ctx, id)
}

// Recover restarts schedulers for workflows the store reports as executing
// or paused, typically after a process restart. Steps that were mid-flight
// are dispatched again; executors must tolerate the duplicate invocation.
func (o *Orchestrator) Recover(ctx context.Context) error {
	recovered := 0
	for _, status := range []models.WorkflowStatus{models.WorkflowExecuting, models.WorkflowPaused} {
		wfs, _, err := o.store.ListWorkflows(ctx, repository.ListFilter{Status: status})
		if err != nil {
			return fmt.Errorf("list %s workflows: %w", status, err)
		}
		o.mu.Lock()
		for _, wf := range wfs {
			if _, ok := o.scheds[wf.ID]; ok {
				continue
			}
			o.spawnLocked(wf)
			recovered++
		}
		o.mu.Unlock()
	}
	if recovered > 0 {
		o.logger.Info("recovered workflows from persisted state", "count", recovered)
	}
	return nil
}

// Close stops all schedulers and waits for their loops to exit. In-flight
// executor calls see their context cancelled.
func (o *Orchestrator) Close() {
	o.cancel()
	o.mu.Lock()
	scheds := make([]*scheduler, 0, len(o.scheds))
	for _, s := range o.scheds {
		scheds = append(scheds, s)
	}
	o.mu.Unlock()
	for _, s := range scheds {
		<-s.done
	}
}

func (o *Orchestrator) getSched(id string) *scheduler {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scheds[id]
}

func (o *Orchestrator) spawnLocked(wf *models.Workflow) {
	s := newScheduler(o, wf)
	o.scheds[wf.ID] = s
	s.start()
}

func (o *Orchestrator) dropScheduler(id string) {
	o.mu.Lock()
	delete(o.scheds, id)
	o.mu.Unlock()
}
