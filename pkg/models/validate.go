package models

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError is returned when the step graph contains a cycle. IDs holds the
// step ids that could not be ordered.
type CycleError struct {
	IDs []string
}

func (e *CycleError) Error() string {
	return "dependency cycle involving steps: " + strings.Join(e.IDs, ", ")
}

// ValidationError describes a structurally invalid workflow. Validation
// happens synchronously at creation time; an invalid workflow is never
// partially executed or persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + e.Reason
}

// Validate checks the structural invariants of the workflow: non-empty step
// list, unique step ids, predecessor references resolving within the
// workflow, and an acyclic dependency graph. It also normalizes derived
// fields (agents involved, default risk level and automation mode).
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return &ValidationError{Reason: "workflow has no steps"}
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.StepID == "" {
			return &ValidationError{Reason: "step with empty id"}
		}
		if seen[s.StepID] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate step id %q", s.StepID)}
		}
		seen[s.StepID] = true
	}

	for _, s := range w.Steps {
		for _, pred := range s.Predecessors {
			if !seen[pred] {
				return &ValidationError{Reason: fmt.Sprintf("step %q references unknown predecessor %q", s.StepID, pred)}
			}
			if pred == s.StepID {
				return &ValidationError{Reason: fmt.Sprintf("step %q depends on itself", s.StepID)}
			}
		}
	}

	if _, err := w.TopologicalOrder(); err != nil {
		return err
	}

	w.normalize()
	return nil
}

// TopologicalOrder returns the step ids in a valid execution order, or a
// CycleError naming the steps stuck in a cycle.
func (w *Workflow) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(w.Steps))
	dependents := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		indegree[s.StepID] += 0
		for _, pred := range s.Predecessors {
			indegree[s.StepID]++
			dependents[pred] = append(dependents[pred], s.StepID)
		}
	}

	// Kahn's algorithm, seeded in declaration order so ties are stable.
	var queue []string
	for _, s := range w.Steps {
		if indegree[s.StepID] == 0 {
			queue = append(queue, s.StepID)
		}
	}

	order := make([]string, 0, len(w.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(w.Steps) {
		ordered := make(map[string]bool, len(order))
		for _, id := range order {
			ordered[id] = true
		}
		var cyclic []string
		for _, s := range w.Steps {
			if !ordered[s.StepID] {
				cyclic = append(cyclic, s.StepID)
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{IDs: cyclic}
	}
	return order, nil
}

// normalize fills derived and defaulted fields after structural validation.
func (w *Workflow) normalize() {
	if w.Classification == "" {
		w.Classification = ClassSimple
	}
	if w.AutomationMode == "" {
		w.AutomationMode = DefaultAutomationMode(w.Classification)
	}
	if w.Status == "" {
		w.Status = WorkflowPlanned
	}

	agents := make(map[string]bool)
	for _, s := range w.Steps {
		if s.Status == "" {
			s.Status = StepPending
		}
		if s.RiskLevel == "" {
			s.RiskLevel = RiskLow
		}
		if s.AgentType != "" {
			agents[s.AgentType] = true
		}
	}
	w.AgentsInvolved = w.AgentsInvolved[:0]
	for a := range agents {
		w.AgentsInvolved = append(w.AgentsInvolved, a)
	}
	sort.Strings(w.AgentsInvolved)
}
