// Package executor defines the boundary between the orchestration engine and
// whatever actually performs a step's action: a shell runner, an LLM agent
// call, browser automation. The engine only sees this interface.
//
// Dispatch is at-least-once: if the service crashes between persisting a
// step's transition to executing and the executor call returning, the step is
// dispatched again on replay. Implementations must tolerate being invoked
// twice for the same step.
package executor

import (
	"context"
	"time"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// Request carries one step to execute plus any user input collected at the
// approval gate.
type Request struct {
	WorkflowID string
	Step       models.Step
	// UserInput is free-form text from the approving user, merged into the
	// execution context. Empty for steps that never waited for approval.
	UserInput string
}

// Result is the outcome of a successful execution.
type Result struct {
	Output   string
	Duration time.Duration
}

// StepExecutor performs a step's action. A returned error marks the step
// failed; the engine records the error detail and never retries on its own.
type StepExecutor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Func adapts a plain function to the StepExecutor interface.
type Func func(ctx context.Context, req *Request) (*Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}
