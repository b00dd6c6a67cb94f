// Package models defines the domain models for the orchestration service
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow
type WorkflowStatus string

const (
	WorkflowPlanned   WorkflowStatus = "planned"
	WorkflowExecuting WorkflowStatus = "executing"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the status is absorbing: no transition leaves it.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// StepStatus represents the lifecycle state of a single step
type StepStatus string

const (
	StepPending         StepStatus = "pending"
	StepExecuting       StepStatus = "executing"
	StepWaitingApproval StepStatus = "waiting_approval"
	StepCompleted       StepStatus = "completed"
	StepFailed          StepStatus = "failed"
	StepSkipped         StepStatus = "skipped"
)

// Terminal reports whether the step status is final for that step.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Satisfies reports whether a predecessor in this status unblocks its
// dependents. Skipped counts: a skip is a user-approved divergence, not a
// failure, so downstream work may proceed.
func (s StepStatus) Satisfies() bool {
	return s == StepCompleted || s == StepSkipped
}

// RiskLevel classifies how dangerous a step's action is
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Classification is an advisory workflow category affecting the default
// automation mode
type Classification string

const (
	ClassSimple   Classification = "simple"
	ClassResearch Classification = "research"
	ClassInstall  Classification = "install"
	ClassComplex  Classification = "complex"
)

// AutomationMode selects the execution strategy for a workflow
type AutomationMode string

const (
	ModeSequential    AutomationMode = "sequential"
	ModeParallel      AutomationMode = "parallel"
	ModePipeline      AutomationMode = "pipeline"
	ModeCollaborative AutomationMode = "collaborative"
	ModeAdaptive      AutomationMode = "adaptive"
)

// DefaultAutomationMode maps a workflow classification to the strategy used
// when the request does not pick one explicitly.
func DefaultAutomationMode(c Classification) AutomationMode {
	switch c {
	case ClassResearch:
		return ModeParallel
	case ClassInstall:
		return ModePipeline
	case ClassComplex:
		return ModeAdaptive
	default:
		return ModeSequential
	}
}

// Skip reasons recorded on steps that never ran.
const (
	SkipReasonUpstreamFailure = "upstream failure"
	SkipReasonUpstreamSkipped = "upstream step skipped"
	SkipReasonDenied          = "denied by user"
	SkipReasonCancelled       = "cancelled by user"
)

// Step is an atomic, possibly risky unit of work inside a workflow.
type Step struct {
	StepID               string     `json:"step_id" db:"step_id"`
	Description          string     `json:"description" db:"description"`
	AgentType            string     `json:"agent_type" db:"agent_type"`
	Command              string     `json:"command" db:"command"`
	RiskLevel            RiskLevel  `json:"risk_level" db:"risk_level"`
	RequiresConfirmation bool       `json:"requires_confirmation" db:"requires_confirmation"`
	Status               StepStatus `json:"status" db:"status"`
	Predecessors         []string   `json:"predecessors,omitempty" db:"predecessors"`
	Stage                int        `json:"stage" db:"stage"`
	StartedAt            *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// ExecutionResult carries the executor's output on success or the error
	// detail on failure. Opaque to the engine.
	ExecutionResult string `json:"execution_result,omitempty" db:"execution_result"`

	// SkipReason records why a step was skipped (deny, cascade or cancel).
	SkipReason string `json:"skip_reason,omitempty" db:"skip_reason"`
}

// Workflow is a DAG of steps plus lifecycle and strategy metadata.
type Workflow struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Description    string         `json:"description,omitempty" db:"description"`
	Classification Classification `json:"classification" db:"classification"`
	Steps          []*Step        `json:"steps" db:"steps"`

	// CurrentStep is the declaration index of the most recently dispatched
	// step. Progress is tracked per step internally; this field exists for
	// simple sequential progress reporting.
	CurrentStep int `json:"current_step" db:"current_step"`

	Status         WorkflowStatus `json:"status" db:"status"`
	AutomationMode AutomationMode `json:"automation_mode" db:"automation_mode"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// AgentsInvolved lists the distinct agent types referenced by steps.
	// Reporting only.
	AgentsInvolved []string `json:"agents_involved,omitempty" db:"agents_involved"`

	// Version is an optimistic concurrency counter bumped on every persisted
	// transition.
	Version int `json:"version" db:"version"`
}

// ApprovalDecision is a human verdict on a step waiting for approval.
// It is consumed exactly once by the approval gate.
type ApprovalDecision struct {
	WorkflowID string    `json:"workflow_id"`
	StepID     string    `json:"step_id"`
	Approved   bool      `json:"approved"`
	UserInput  string    `json:"user_input,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowStats aggregates a run's outcome for audit and re-run decisions.
type WorkflowStats struct {
	WorkflowID string         `json:"workflow_id"`
	Status     WorkflowStatus `json:"status"`
	TotalSteps int            `json:"total_steps"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Duration   time.Duration  `json:"duration_ns"`
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, s := range w.Steps {
		if s.StepID == id {
			return s
		}
	}
	return nil
}

// StepIndex returns the declaration index of the step with the given id,
// or -1 if absent.
func (w *Workflow) StepIndex(id string) int {
	for i, s := range w.Steps {
		if s.StepID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the workflow. The engine hands clones to
// read-only consumers so the scheduler remains the single writer.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Steps = make([]*Step, len(w.Steps))
	for i, s := range w.Steps {
		sc := *s
		sc.Predecessors = append([]string(nil), s.Predecessors...)
		if s.StartedAt != nil {
			t := *s.StartedAt
			sc.StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			sc.CompletedAt = &t
		}
		cp.Steps[i] = &sc
	}
	cp.AgentsInvolved = append([]string(nil), w.AgentsInvolved...)
	if w.StartedAt != nil {
		t := *w.StartedAt
		cp.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Stats computes the aggregate outcome counts for the workflow.
func (w *Workflow) Stats() *WorkflowStats {
	st := &WorkflowStats{
		WorkflowID: w.ID,
		Status:     w.Status,
		TotalSteps: len(w.Steps),
	}
	for _, s := range w.Steps {
		switch s.Status {
		case StepCompleted:
			st.Completed++
		case StepFailed:
			st.Failed++
		case StepSkipped:
			st.Skipped++
		}
	}
	if w.StartedAt != nil {
		end := time.Now()
		if w.CompletedAt != nil {
			end = *w.CompletedAt
		}
		st.Duration = end.Sub(*w.StartedAt)
	}
	return st
}
