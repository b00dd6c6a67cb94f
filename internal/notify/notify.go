// Package notify surfaces "waiting for approval" events to the outside
// world. Decisions come back through the orchestrator's approve/deny
// operations; this package is one-way.
package notify

import (
	"context"
	"time"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
)

// ApprovalRequest describes a step suspended at the approval gate.
type ApprovalRequest struct {
	WorkflowID  string    `json:"workflow_id"`
	StepID      string    `json:"step_id"`
	Description string    `json:"description"`
	AgentType   string    `json:"agent_type"`
	RiskLevel   string    `json:"risk_level"`
	Preview     string    `json:"preview,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Notifier delivers approval requests to a human-facing channel. Delivery is
// best-effort: a failed notification never blocks the workflow, the step
// simply stays in waiting_approval until someone resolves it.
type Notifier interface {
	ApprovalRequested(ctx context.Context, req ApprovalRequest) error
}

// LogNotifier writes approval requests to the service log. It is the default
// when no webhook is configured.
type LogNotifier struct {
	Logger *logging.Logger
}

func (n *LogNotifier) ApprovalRequested(ctx context.Context, req ApprovalRequest) error {
	n.Logger.Info("step waiting for approval",
		"workflow", req.WorkflowID,
		"step", req.StepID,
		"agent", req.AgentType,
		"risk", req.RiskLevel,
		"description", req.Description,
	)
	return nil
}

// ChanNotifier publishes approval requests on a channel. Used by tests and
// in-process consumers.
type ChanNotifier struct {
	C chan ApprovalRequest
}

// NewChanNotifier creates a ChanNotifier with the given buffer size.
func NewChanNotifier(buffer int) *ChanNotifier {
	return &ChanNotifier{C: make(chan ApprovalRequest, buffer)}
}

func (n *ChanNotifier) ApprovalRequested(ctx context.Context, req ApprovalRequest) error {
	select {
	case n.C <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
