package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/executor"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// scheduler is the coordinating loop for one active workflow. It is the
// single writer for that workflow's state: every transition happens under
// s.mu and is persisted before the next dispatch decision. Step executions
// run in their own goroutines and report back through the same lock, so no
// two transitions for the same step can race.
//
// The loop is event-driven: it sleeps on s.wake and is nudged by step
// completions, approval decisions and lifecycle operations. Nothing polls.
type scheduler struct {
	orch *Orchestrator
	wfID string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	wf     *models.Workflow
	paused bool
	// halted is set when a transition could not be made durable even after
	// retries; the loop stops dispatching so replay from the last persisted
	// state stays safe.
	halted   bool
	inflight map[string]bool

	// adaptive strategy feedback
	parallelMode  bool
	lowRiskStreak int

	wake chan struct{}
	done chan struct{}
}

func newScheduler(orch *Orchestrator, wf *models.Workflow) *scheduler {
	ctx, cancel := context.WithCancel(orch.ctx)
	return &scheduler{
		orch:     orch,
		wfID:     wf.ID,
		ctx:      ctx,
		cancel:   cancel,
		wf:       wf,
		paused:   wf.Status == models.WorkflowPaused,
		inflight: make(map[string]bool),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// start relaunches any step that was already executing (crash recovery:
// dispatch is at-least-once) and spins the loop.
func (s *scheduler) start() {
	s.mu.Lock()
	for _, st := range s.wf.Steps {
		if st.Status == models.StepExecuting && !s.inflight[st.StepID] {
			s.inflight[st.StepID] = true
			go s.execute(*st, "")
		}
	}
	s.mu.Unlock()
	go s.run()
}

func (s *scheduler) run() {
	defer close(s.done)
	defer s.orch.dropScheduler(s.wfID)

	for {
		s.mu.Lock()
		s.evaluateLocked()
		finished := s.wf.Status.Terminal() && len(s.inflight) == 0
		s.mu.Unlock()

		if finished {
			return
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

// evaluateLocked runs one resolve → dispatch round: apply cascade skips,
// settle the terminal state if nothing is left, otherwise hand the eligible
// set to the strategy engine and launch the chosen batch.
func (s *scheduler) evaluateLocked() {
	if s.wf.Status.Terminal() || s.halted {
		return
	}

	if skips := CascadeSkips(s.wf); len(skips) > 0 {
		for _, st := range skips {
			st.Status = models.StepSkipped
			st.SkipReason = s.cascadeReason(st)
		}
		if s.persistLocked() != nil {
			return
		}
	}

	if !Unresolved(s.wf) {
		s.finishLocked(TerminalStatus(s.wf))
		return
	}

	if s.paused {
		return
	}

	eligible := Eligible(s.wf)
	batch := nextBatch(s.wf, eligible, s.dispatchStateLocked(), s.orch.cfg.MaxParallel)
	if len(batch) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, st := range batch {
		if s.orch.gate.MustWait(st) {
			st.Status = models.StepWaitingApproval
		} else {
			started := now
			st.Status = models.StepExecuting
			st.StartedAt = &started
		}
		if idx := s.wf.StepIndex(st.StepID); idx > s.wf.CurrentStep {
			s.wf.CurrentStep = idx
		}
	}

	// Durable before dispatch: a crash from here on re-runs the batch.
	if s.persistLocked() != nil {
		return
	}

	for _, st := range batch {
		step := *st
		if st.Status == models.StepWaitingApproval {
			go s.orch.gate.Notify(s.ctx, s.wfID, &step)
			continue
		}
		s.inflight[st.StepID] = true
		go s.execute(step, "")
	}
}

// cascadeReason distinguishes a failed predecessor from one that was
// skipped upstream; both doom the step.
func (s *scheduler) cascadeReason(st *models.Step) string {
	for _, pred := range st.Predecessors {
		if p := s.wf.StepByID(pred); p != nil && p.Status == models.StepFailed {
			return models.SkipReasonUpstreamFailure
		}
	}
	return models.SkipReasonUpstreamSkipped
}

// execute runs one step through the external executor and records the
// outcome. Failures become data on the step; they never escape the loop and
// the workflow keeps evaluating independent branches.
func (s *scheduler) execute(step models.Step, userInput string) {
	res, err := s.orch.exec.Execute(s.ctx, &executor.Request{
		WorkflowID: s.wfID,
		Step:       step,
		UserInput:  userInput,
	})

	s.mu.Lock()
	st := s.wf.StepByID(step.StepID)
	if st != nil && st.Status == models.StepExecuting {
		now := time.Now().UTC()
		st.CompletedAt = &now
		if err != nil {
			st.Status = models.StepFailed
			st.ExecutionResult = err.Error()
			// Adaptive feedback: any failure downgrades to sequential.
			s.parallelMode = false
			s.lowRiskStreak = 0
		} else {
			st.Status = models.StepCompleted
			if res != nil {
				st.ExecutionResult = res.Output
			}
			if st.RiskLevel == models.RiskLow {
				s.lowRiskStreak++
				if s.lowRiskStreak >= s.orch.cfg.AdaptivePromoteAfter {
					s.parallelMode = true
				}
			}
		}
		s.persistLocked()
	}
	delete(s.inflight, step.StepID)
	s.mu.Unlock()
	s.nudge()
}

// resolve applies an approval decision to a waiting step. A decision for a
// step that already left waiting_approval is a no-op: applied=false, no
// error. A decision for a step the gate never admitted is ErrNotWaiting.
func (s *scheduler) resolve(d models.ApprovalDecision) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.wf.StepByID(d.StepID)
	if st == nil {
		return false, ErrStepNotFound
	}
	if st.Status != models.StepWaitingApproval {
		if st.Status == models.StepPending {
			return false, ErrNotWaiting
		}
		return false, nil // already resolved
	}

	now := time.Now().UTC()
	if d.Approved {
		st.Status = models.StepExecuting
		st.StartedAt = &now
		if idx := s.wf.StepIndex(st.StepID); idx > s.wf.CurrentStep {
			s.wf.CurrentStep = idx
		}
		if err := s.persistLocked(); err != nil {
			return false, err
		}
		s.inflight[st.StepID] = true
		go s.execute(*st, d.UserInput)
		return true, nil
	}

	// A deny is a deliberate divergence, not an error.
	st.Status = models.StepSkipped
	st.SkipReason = models.SkipReasonDenied
	if d.UserInput != "" {
		st.ExecutionResult = d.UserInput
	}
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	s.nudge()
	return true, nil
}

// pause stops dispatching new steps. Steps already executing or waiting for
// approval finish or resolve naturally.
func (s *scheduler) pause() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wf.Status.Terminal() {
		return false, ErrInvalidTransition
	}
	if s.paused {
		return false, nil
	}
	s.paused = true
	s.wf.Status = models.WorkflowPaused
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// resume re-enters the dispatch loop from paused.
func (s *scheduler) resume() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wf.Status.Terminal() {
		return false, ErrInvalidTransition
	}
	if !s.paused {
		return false, nil
	}
	s.paused = false
	s.wf.Status = models.WorkflowExecuting
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	s.nudge()
	return true, nil
}

// cancelRun skips every step that has not started, marks the workflow
// cancelled and lets in-flight executions drain. The core never preempts a
// running executor call; interrupting the underlying action is the
// executor's own cancellation concern.
func (s *scheduler) cancelRun() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wf.Status.Terminal() {
		return false, nil // idempotent
	}
	for _, st := range s.wf.Steps {
		switch st.Status {
		case models.StepPending, models.StepWaitingApproval:
			st.Status = models.StepSkipped
			st.SkipReason = models.SkipReasonCancelled
		}
	}
	now := time.Now().UTC()
	s.wf.Status = models.WorkflowCancelled
	s.wf.CompletedAt = &now
	s.paused = false
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	s.nudge()
	return true, nil
}

// snapshot returns a deep copy for read-only consumers.
func (s *scheduler) snapshot() *models.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wf.Clone()
}

// finishLocked settles the workflow into its derived terminal status.
func (s *scheduler) finishLocked(status models.WorkflowStatus) {
	now := time.Now().UTC()
	s.wf.Status = status
	s.wf.CompletedAt = &now
	if s.persistLocked() == nil {
		s.orch.logger.Info("workflow finished", "workflow", s.wfID, "status", status)
	}
}

// persistLocked makes the current state durable. On a persistence failure
// that survives the store's own retries, the loop halts dispatch so crash
// replay remains consistent with what was last recorded.
func (s *scheduler) persistLocked() error {
	if err := s.orch.store.UpdateWorkflow(s.ctx, s.wf); err != nil {
		s.orch.logger.Error("failed to persist workflow transition",
			"workflow", s.wfID, "error", err)
		s.halted = true
		return err
	}
	return nil
}

// dispatchStateLocked snapshots what the strategy engine needs to know about
// in-flight work.
func (s *scheduler) dispatchStateLocked() dispatchState {
	st := dispatchState{
		BusyAgents:   make(map[string]bool),
		ParallelMode: s.parallelMode,
	}
	for _, step := range s.wf.Steps {
		if step.Status == models.StepExecuting || step.Status == models.StepWaitingApproval {
			st.InFlight++
			if step.AgentType != "" {
				st.BusyAgents[step.AgentType] = true
			}
		}
	}
	return st
}

// nudge wakes the loop without blocking; a pending nudge is enough.
func (s *scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
