package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/executor"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/notify"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/repository"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// fakeExec is a scriptable executor. Steps registered with gateStep block
// until releaseStep; steps registered with failStep return an error. Every
// invocation is announced on the started channel.
type fakeExec struct {
	mu      sync.Mutex
	started chan string
	release map[string]chan struct{}
	fail    map[string]bool
	inputs  map[string]string
	calls   map[string]int
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		started: make(chan string, 32),
		release: make(map[string]chan struct{}),
		fail:    make(map[string]bool),
		inputs:  make(map[string]string),
		calls:   make(map[string]int),
	}
}

// gateStep and failStep must be called before the workflow starts.
func (f *fakeExec) gateStep(id string) { f.release[id] = make(chan struct{}) }
func (f *fakeExec) failStep(id string) { f.fail[id] = true }

func (f *fakeExec) releaseStep(id string) { close(f.release[id]) }

func (f *fakeExec) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeExec) input(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[id]
}

func (f *fakeExec) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	id := req.Step.StepID
	f.mu.Lock()
	f.calls[id]++
	f.inputs[id] = req.UserInput
	gate := f.release[id]
	fail := f.fail[id]
	f.mu.Unlock()

	f.started <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("simulated step failure")
	}
	return &executor.Result{Output: "ok: " + id}, nil
}

func newTestEngine(t *testing.T, exec executor.StepExecutor, cfg Config) (*Orchestrator, *repository.MemoryWorkflowStore, *notify.ChanNotifier) {
	t.Helper()
	store := repository.NewMemoryWorkflowStore()
	notifier := notify.NewChanNotifier(16)
	orch := New(store, exec, notifier, logging.NewLogger(), cfg)
	t.Cleanup(orch.Close)
	return orch, store, notifier
}

func newWF(name string, mode models.AutomationMode, steps ...*models.Step) *models.Workflow {
	return &models.Workflow{Name: name, AutomationMode: mode, Steps: steps}
}

func waitStarted(t *testing.T, f *fakeExec) string {
	t.Helper()
	select {
	case id := <-f.started:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a step to start")
		return ""
	}
}

func awaitStatus(t *testing.T, orch *Orchestrator, id string, want models.WorkflowStatus) *models.Workflow {
	t.Helper()
	var wf *models.Workflow
	require.Eventually(t, func() bool {
		got, err := orch.Get(context.Background(), id)
		if err != nil {
			return false
		}
		wf = got
		return got.Status == want
	}, 3*time.Second, 10*time.Millisecond)
	return wf
}

func awaitStepStatus(t *testing.T, orch *Orchestrator, wfID, stepID string, want models.StepStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		wf, err := orch.Get(context.Background(), wfID)
		if err != nil {
			return false
		}
		st := wf.StepByID(stepID)
		return st != nil && st.Status == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSequentialChainRunsInOrder(t *testing.T) {
	exec := newFakeExec()
	orch, _, notifier := newTestEngine(t, exec, Config{})

	wf, err := orch.Create(context.Background(),
		newWF("chain", models.ModeSequential, mkStep("a"), mkStep("b", "a"), mkStep("c", "b")),
		true)
	require.NoError(t, err)
	require.NotEmpty(t, wf.ID)

	done := awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)

	assert.Equal(t, "a", waitStarted(t, exec))
	assert.Equal(t, "b", waitStarted(t, exec))
	assert.Equal(t, "c", waitStarted(t, exec))

	assert.Equal(t, 2, done.CurrentStep)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	for _, st := range done.Steps {
		assert.Equal(t, models.StepCompleted, st.Status)
		assert.NotNil(t, st.StartedAt)
		assert.NotNil(t, st.CompletedAt)
		assert.Equal(t, "ok: "+st.StepID, st.ExecutionResult)
	}
	// No step was flagged for confirmation, so the gate stayed silent.
	assert.Empty(t, notifier.C)
}

func TestCreateRejectsInvalidGraph(t *testing.T) {
	orch, store, _ := newTestEngine(t, newFakeExec(), Config{})

	_, err := orch.Create(context.Background(),
		newWF("cyclic", models.ModeSequential, mkStep("a", "b"), mkStep("b", "a")),
		true)

	var cycleErr *models.CycleError
	require.ErrorAs(t, err, &cycleErr)

	// Fail-fast: nothing was persisted.
	_, total, err := store.ListWorkflows(context.Background(), repository.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDenyCascadesToDependents(t *testing.T) {
	exec := newFakeExec()
	orch, _, notifier := newTestEngine(t, exec, Config{})

	risky := mkStep("a")
	risky.RequiresConfirmation = true
	risky.RiskLevel = models.RiskHigh

	wf, err := orch.Create(context.Background(),
		newWF("deny", models.ModeSequential, risky, mkStep("b", "a")),
		true)
	require.NoError(t, err)

	select {
	case req := <-notifier.C:
		assert.Equal(t, wf.ID, req.WorkflowID)
		assert.Equal(t, "a", req.StepID)
		assert.Equal(t, "high", req.RiskLevel)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for approval request")
	}
	awaitStepStatus(t, orch, wf.ID, "a", models.StepWaitingApproval)

	applied, err := orch.Deny(context.Background(), wf.ID, "a", "too risky")
	require.NoError(t, err)
	assert.True(t, applied)

	// A deny is a divergence, not a failure: the workflow still completes.
	done := awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
	a, b := done.StepByID("a"), done.StepByID("b")
	assert.Equal(t, models.StepSkipped, a.Status)
	assert.Equal(t, models.SkipReasonDenied, a.SkipReason)
	assert.Equal(t, models.StepSkipped, b.Status)
	assert.Equal(t, models.SkipReasonUpstreamSkipped, b.SkipReason)
	assert.Zero(t, exec.callCount("a"))
	assert.Zero(t, exec.callCount("b"))

	// A decision for an already-resolved step is a no-op.
	applied, err = orch.Deny(context.Background(), wf.ID, "a", "")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApproveForwardsUserInput(t *testing.T) {
	exec := newFakeExec()
	orch, _, _ := newTestEngine(t, exec, Config{})

	risky := mkStep("a")
	risky.RequiresConfirmation = true

	wf, err := orch.Create(context.Background(),
		newWF("approve", models.ModeSequential, risky, mkStep("b", "a")),
		true)
	require.NoError(t, err)

	awaitStepStatus(t, orch, wf.ID, "a", models.StepWaitingApproval)

	applied, err := orch.Approve(context.Background(), wf.ID, "a", "use the staging bucket")
	require.NoError(t, err)
	assert.True(t, applied)

	done := awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
	assert.Equal(t, models.StepCompleted, done.StepByID("a").Status)
	assert.Equal(t, models.StepCompleted, done.StepByID("b").Status)
	assert.Equal(t, "use the staging bucket", exec.input("a"))
	assert.Empty(t, exec.input("b"))

	// Idempotent: a second approve after resolution applies nothing.
	applied, err = orch.Approve(context.Background(), wf.ID, "a", "")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestFailureSkipsDependentsButNotSiblings(t *testing.T) {
	exec := newFakeExec()
	exec.failStep("a")
	orch, _, _ := newTestEngine(t, exec, Config{})

	wf, err := orch.Create(context.Background(),
		newWF("branchy", models.ModeParallel, mkStep("a"), mkStep("b", "a"), mkStep("c")),
		true)
	require.NoError(t, err)

	done := awaitStatus(t, orch, wf.ID, models.WorkflowFailed)

	a, b, c := done.StepByID("a"), done.StepByID("b"), done.StepByID("c")
	assert.Equal(t, models.StepFailed, a.Status)
	assert.Equal(t, "simulated step failure", a.ExecutionResult)
	assert.Equal(t, models.StepSkipped, b.Status)
	assert.Equal(t, models.SkipReasonUpstreamFailure, b.SkipReason)
	assert.Equal(t, models.StepCompleted, c.Status)
	assert.Zero(t, exec.callCount("b"))
}

func TestParallelFanOutDispatchesConcurrently(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("b")
	exec.gateStep("c")
	orch, _, _ := newTestEngine(t, exec, Config{MaxParallel: 4})

	wf, err := orch.Create(context.Background(),
		newWF("fanout", models.ModeParallel, mkStep("a"), mkStep("b", "a"), mkStep("c", "a")),
		true)
	require.NoError(t, err)

	assert.Equal(t, "a", waitStarted(t, exec))

	// Both dependents start while neither has finished.
	got := map[string]bool{waitStarted(t, exec): true, waitStarted(t, exec): true}
	assert.True(t, got["b"] && got["c"])

	exec.releaseStep("b")
	exec.releaseStep("c")
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
}

func TestCancelSkipsPendingAndDrainsInFlight(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("a")
	orch, _, _ := newTestEngine(t, exec, Config{})

	wf, err := orch.Create(context.Background(),
		newWF("cancel", models.ModeSequential, mkStep("a"), mkStep("b", "a"), mkStep("c", "b")),
		true)
	require.NoError(t, err)
	require.Equal(t, "a", waitStarted(t, exec))

	applied, err := orch.Cancel(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	// Cancellation is immediate for anything not yet started.
	got := awaitStatus(t, orch, wf.ID, models.WorkflowCancelled)
	assert.Equal(t, models.StepExecuting, got.StepByID("a").Status)
	for _, id := range []string{"b", "c"} {
		st := got.StepByID(id)
		assert.Equal(t, models.StepSkipped, st.Status)
		assert.Equal(t, models.SkipReasonCancelled, st.SkipReason)
	}
	assert.NotNil(t, got.CompletedAt)

	// The in-flight step drains naturally and its result is still recorded.
	exec.releaseStep("a")
	awaitStepStatus(t, orch, wf.ID, "a", models.StepCompleted)
	got, err = orch.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCancelled, got.Status)

	applied, err = orch.Cancel(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPauseHoldsDispatchUntilResume(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("a")
	orch, _, _ := newTestEngine(t, exec, Config{})

	wf, err := orch.Create(context.Background(),
		newWF("pause", models.ModeSequential, mkStep("a"), mkStep("b", "a")),
		true)
	require.NoError(t, err)
	require.Equal(t, "a", waitStarted(t, exec))

	applied, err := orch.Pause(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	// The in-flight step finishes; its successor stays parked.
	exec.releaseStep("a")
	awaitStepStatus(t, orch, wf.ID, "a", models.StepCompleted)
	got, err := orch.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPaused, got.Status)
	assert.Equal(t, models.StepPending, got.StepByID("b").Status)

	// Pausing a paused workflow applies nothing.
	applied, err = orch.Pause(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = orch.Resume(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	done := awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
	assert.Equal(t, models.StepCompleted, done.StepByID("b").Status)
}

func TestCollaborativeSerializesSameAgent(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("x1")
	exec.gateStep("x2")
	exec.gateStep("y1")
	orch, _, _ := newTestEngine(t, exec, Config{MaxParallel: 4})

	x1, x2, y1 := mkStep("x1"), mkStep("x2"), mkStep("y1")
	x1.AgentType, x2.AgentType, y1.AgentType = "coder", "coder", "reviewer"

	wf, err := orch.Create(context.Background(),
		newWF("collab", models.ModeCollaborative, x1, x2, y1),
		true)
	require.NoError(t, err)

	got := map[string]bool{waitStarted(t, exec): true, waitStarted(t, exec): true}
	assert.True(t, got["x1"] && got["y1"], "one step per agent type, got %v", got)

	// The second coder step waits for the first to free the agent.
	snap, err := orch.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, snap.StepByID("x2").Status)

	exec.releaseStep("x1")
	assert.Equal(t, "x2", waitStarted(t, exec))

	exec.releaseStep("x2")
	exec.releaseStep("y1")
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
}

func TestAdaptivePromotesAfterLowRiskStreak(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("b")
	exec.gateStep("c")
	orch, _, _ := newTestEngine(t, exec, Config{MaxParallel: 4, AdaptivePromoteAfter: 1})

	wf, err := orch.Create(context.Background(),
		newWF("adaptive", models.ModeAdaptive, mkStep("a"), mkStep("b"), mkStep("c")),
		true)
	require.NoError(t, err)

	// Starts cautious: one step at a time.
	assert.Equal(t, "a", waitStarted(t, exec))

	// One low-risk success later the strategy shifts to parallel dispatch.
	got := map[string]bool{waitStarted(t, exec): true, waitStarted(t, exec): true}
	assert.True(t, got["b"] && got["c"])

	exec.releaseStep("b")
	exec.releaseStep("c")
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
}

func TestAdaptiveStaysSequentialAfterFailure(t *testing.T) {
	exec := newFakeExec()
	exec.failStep("a")
	exec.gateStep("b")
	orch, _, _ := newTestEngine(t, exec, Config{MaxParallel: 4, AdaptivePromoteAfter: 1})

	wf, err := orch.Create(context.Background(),
		newWF("adaptive-demote", models.ModeAdaptive, mkStep("a"), mkStep("b"), mkStep("c")),
		true)
	require.NoError(t, err)

	assert.Equal(t, "a", waitStarted(t, exec))
	assert.Equal(t, "b", waitStarted(t, exec))

	// The failure kept dispatch sequential: c waits on b.
	snap, err := orch.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, snap.StepByID("c").Status)

	exec.releaseStep("b")
	assert.Equal(t, "c", waitStarted(t, exec))
	awaitStatus(t, orch, wf.ID, models.WorkflowFailed)
}

func TestPipelineHoldsNextStage(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("a")
	exec.gateStep("b")
	orch, _, _ := newTestEngine(t, exec, Config{MaxParallel: 4})

	a, b, c := mkStep("a"), mkStep("b"), mkStep("c")
	c.Stage = 1

	wf, err := orch.Create(context.Background(),
		newWF("pipeline", models.ModePipeline, a, b, c),
		true)
	require.NoError(t, err)

	got := map[string]bool{waitStarted(t, exec): true, waitStarted(t, exec): true}
	assert.True(t, got["a"] && got["b"])

	// Stage 1 stays closed while stage 0 has an open step.
	exec.releaseStep("a")
	awaitStepStatus(t, orch, wf.ID, "a", models.StepCompleted)
	snap, err := orch.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, snap.StepByID("c").Status)

	exec.releaseStep("b")
	assert.Equal(t, "c", waitStarted(t, exec))
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
}

func TestTerminalWorkflowAbsorbsOperations(t *testing.T) {
	orch, _, _ := newTestEngine(t, newFakeExec(), Config{})

	wf, err := orch.Create(context.Background(),
		newWF("done", models.ModeSequential, mkStep("a")),
		true)
	require.NoError(t, err)
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)

	applied, err := orch.Cancel(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = orch.Approve(context.Background(), wf.ID, "a", "")
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = orch.Pause(context.Background(), wf.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = orch.Resume(context.Background(), wf.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResolveRejectsStepsOutsideTheGate(t *testing.T) {
	exec := newFakeExec()
	exec.gateStep("a")
	orch, _, _ := newTestEngine(t, exec, Config{})

	b := mkStep("b", "a")
	b.RequiresConfirmation = true

	wf, err := orch.Create(context.Background(),
		newWF("not-waiting", models.ModeSequential, mkStep("a"), b),
		true)
	require.NoError(t, err)
	require.Equal(t, "a", waitStarted(t, exec))

	// b is flagged for confirmation but has not reached the gate yet.
	_, err = orch.Approve(context.Background(), wf.ID, "b", "")
	assert.ErrorIs(t, err, ErrNotWaiting)

	_, err = orch.Approve(context.Background(), wf.ID, "nope", "")
	assert.ErrorIs(t, err, ErrStepNotFound)

	exec.releaseStep("a")
	awaitStepStatus(t, orch, wf.ID, "b", models.StepWaitingApproval)
	applied, err := orch.Approve(context.Background(), wf.ID, "b", "")
	require.NoError(t, err)
	assert.True(t, applied)
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)
}

func TestStartRejectsNonPlanned(t *testing.T) {
	orch, _, _ := newTestEngine(t, newFakeExec(), Config{})

	wf, err := orch.Create(context.Background(),
		newWF("restart", models.ModeSequential, mkStep("a")),
		false)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowPlanned, wf.Status)

	require.NoError(t, orch.Start(context.Background(), wf.ID))
	awaitStatus(t, orch, wf.ID, models.WorkflowCompleted)

	err = orch.Start(context.Background(), wf.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRecoverRedispatchesInFlightSteps(t *testing.T) {
	store := repository.NewMemoryWorkflowStore()
	exec := newFakeExec()

	// Simulate a crash after step a transitioned to executing.
	crashed := newWF("recover", models.ModeSequential, mkStep("a"), mkStep("b", "a"))
	crashed.ID = "wf-recover"
	crashed.CreatedAt = time.Now().UTC()
	require.NoError(t, crashed.Validate())
	now := time.Now().UTC()
	crashed.Status = models.WorkflowExecuting
	crashed.StartedAt = &now
	crashed.StepByID("a").Status = models.StepExecuting
	crashed.StepByID("a").StartedAt = &now
	require.NoError(t, store.CreateWorkflow(context.Background(), crashed))

	orch := New(store, exec, notify.NewChanNotifier(1), logging.NewLogger(), Config{})
	t.Cleanup(orch.Close)
	require.NoError(t, orch.Recover(context.Background()))

	done := awaitStatus(t, orch, crashed.ID, models.WorkflowCompleted)
	assert.Equal(t, models.StepCompleted, done.StepByID("a").Status)
	assert.Equal(t, models.StepCompleted, done.StepByID("b").Status)
	assert.Equal(t, 1, exec.callCount("a"))
	assert.Equal(t, 1, exec.callCount("b"))
}
