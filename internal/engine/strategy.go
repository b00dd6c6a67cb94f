package engine

import (
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// dispatchState is the scheduler-owned view the strategy engine needs in
// addition to the workflow snapshot: how many steps are currently in flight,
// which agent types are occupied, and whether the adaptive strategy has been
// promoted to parallel.
type dispatchState struct {
	// InFlight counts steps currently executing or parked at the approval
	// gate. Both occupy a dispatch slot.
	InFlight int
	// BusyAgents holds the agent types with an active (executing or
	// waiting) step.
	BusyAgents map[string]bool
	// ParallelMode is the adaptive strategy's current gear.
	ParallelMode bool
}

// nextBatch decides which eligible steps to launch now, honoring the
// workflow's automation mode. Eligible steps arrive in declaration order and
// the returned batch preserves it. The engine never retries a failed step;
// re-running a failed workflow is a new workflow.
func nextBatch(wf *models.Workflow, eligible []*models.Step, st dispatchState, maxParallel int) []*models.Step {
	if len(eligible) == 0 {
		return nil
	}

	switch wf.AutomationMode {
	case models.ModeParallel:
		return takeN(eligible, maxParallel-st.InFlight)

	case models.ModePipeline:
		return pipelineBatch(wf, eligible, st, maxParallel)

	case models.ModeCollaborative:
		return collaborativeBatch(eligible, st, maxParallel)

	case models.ModeAdaptive:
		if st.ParallelMode {
			return takeN(eligible, maxParallel-st.InFlight)
		}
		return sequentialBatch(eligible, st)

	default: // sequential
		return sequentialBatch(eligible, st)
	}
}

// sequentialBatch launches one step at a time, lowest declaration order
// first.
func sequentialBatch(eligible []*models.Step, st dispatchState) []*models.Step {
	if st.InFlight > 0 {
		return nil
	}
	return eligible[:1]
}

// pipelineBatch dispatches all eligible steps in the earliest incomplete
// stage. The next stage does not start until every step of the current stage
// has resolved.
func pipelineBatch(wf *models.Workflow, eligible []*models.Step, st dispatchState, maxParallel int) []*models.Step {
	stage, found := earliestOpenStage(wf)
	if !found {
		return nil
	}
	var batch []*models.Step
	for _, s := range eligible {
		if s.Stage == stage {
			batch = append(batch, s)
		}
	}
	return takeN(batch, maxParallel-st.InFlight)
}

// earliestOpenStage returns the lowest stage number with unresolved steps.
func earliestOpenStage(wf *models.Workflow) (int, bool) {
	stage := 0
	found := false
	for _, s := range wf.Steps {
		if s.Status.Terminal() {
			continue
		}
		if !found || s.Stage < stage {
			stage = s.Stage
			found = true
		}
	}
	return stage, found
}

// collaborativeBatch is parallel dispatch with steps of the same agent type
// serialized against each other: one agent, one active step.
func collaborativeBatch(eligible []*models.Step, st dispatchState, maxParallel int) []*models.Step {
	slots := maxParallel - st.InFlight
	if slots <= 0 {
		return nil
	}
	claimed := make(map[string]bool, len(st.BusyAgents))
	for agent := range st.BusyAgents {
		claimed[agent] = true
	}
	var batch []*models.Step
	for _, s := range eligible {
		if len(batch) >= slots {
			break
		}
		if claimed[s.AgentType] {
			continue
		}
		claimed[s.AgentType] = true
		batch = append(batch, s)
	}
	return batch
}

func takeN(steps []*models.Step, n int) []*models.Step {
	if n <= 0 {
		return nil
	}
	if len(steps) > n {
		return steps[:n]
	}
	return steps
}
