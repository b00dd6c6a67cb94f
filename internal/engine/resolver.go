package engine

import (
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// The dependency resolver is a read-only view over a workflow snapshot: it
// proposes steps to run or to skip, and the scheduler (the single writer)
// applies the transitions.

// Eligible returns every pending step whose full predecessor set has reached
// a satisfying terminal status, in declaration order. Steps doomed by an
// upstream failure are not eligible; CascadeSkips reports those.
func Eligible(wf *models.Workflow) []*models.Step {
	var out []*models.Step
	for _, s := range wf.Steps {
		if s.Status != models.StepPending {
			continue
		}
		ok := true
		for _, pred := range s.Predecessors {
			p := wf.StepByID(pred)
			if p == nil || !p.Status.Satisfies() {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}

// CascadeSkips returns the pending steps that can never run because a
// predecessor failed or was itself skipped as a divergence (deny, cancel or
// an earlier cascade). The result is transitive: callers apply the skips and
// the next call covers newly doomed dependents, but for convenience this
// already iterates to a fixpoint over the snapshot.
func CascadeSkips(wf *models.Workflow) []*models.Step {
	doomed := make(map[string]bool)
	for {
		changed := false
		for _, s := range wf.Steps {
			if s.Status != models.StepPending || doomed[s.StepID] {
				continue
			}
			for _, pred := range s.Predecessors {
				p := wf.StepByID(pred)
				if p == nil {
					continue
				}
				if p.Status == models.StepFailed || p.Status == models.StepSkipped || doomed[pred] {
					doomed[s.StepID] = true
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}

	var out []*models.Step
	for _, s := range wf.Steps {
		if doomed[s.StepID] {
			out = append(out, s)
		}
	}
	return out
}

// Unresolved reports whether any step still has work pending: a workflow
// with zero pending, executing or waiting steps is terminal.
func Unresolved(wf *models.Workflow) bool {
	for _, s := range wf.Steps {
		switch s.Status {
		case models.StepPending, models.StepExecuting, models.StepWaitingApproval:
			return true
		}
	}
	return false
}

// TerminalStatus derives the terminal workflow status once Unresolved
// returns false: completed iff zero steps failed, else failed. An explicit
// cancel takes priority and is set directly by the cancel operation, never
// derived here.
func TerminalStatus(wf *models.Workflow) models.WorkflowStatus {
	for _, s := range wf.Steps {
		if s.Status == models.StepFailed {
			return models.WorkflowFailed
		}
	}
	return models.WorkflowCompleted
}
