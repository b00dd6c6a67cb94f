package engine

import (
	"context"
	"time"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/notify"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// approvalGate intercepts steps flagged requires_confirmation. Admission
// decides whether a step may execute right away or must park in
// waiting_approval; resolution happens through the orchestrator's
// approve/deny operations, which hand the decision back to the scheduler.
//
// There is no timeout: a waiting step stays parked until a human resolves it
// or the workflow is cancelled. The gate is human-paced on purpose.
type approvalGate struct {
	notifier notify.Notifier
	logger   *logging.Logger
}

// MustWait reports whether the step has to pass through waiting_approval
// before executing.
func (g *approvalGate) MustWait(st *models.Step) bool {
	return st.RequiresConfirmation
}

// Notify emits the waiting-for-approval event to the external channel.
// Delivery failures are logged and swallowed: the step already sits in
// waiting_approval and can still be resolved through the API.
func (g *approvalGate) Notify(ctx context.Context, workflowID string, st *models.Step) {
	req := notify.ApprovalRequest{
		WorkflowID:  workflowID,
		StepID:      st.StepID,
		Description: st.Description,
		AgentType:   st.AgentType,
		RiskLevel:   string(st.RiskLevel),
		Preview:     st.ExecutionResult,
		RequestedAt: time.Now().UTC(),
	}
	if err := g.notifier.ApprovalRequested(ctx, req); err != nil {
		g.logger.Warn("approval notification failed",
			"workflow", workflowID, "step", st.StepID, "error", err)
	}
}
