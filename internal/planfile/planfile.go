// Package planfile reads workflow plans from YAML documents. Plans are the
// operator-facing format used by the seed tool and the workflowctl CLI; the
// engine itself only sees the converted models.
package planfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

// Plan is one workflow definition as written by an operator.
type Plan struct {
	Name           string     `yaml:"name"`
	Description    string     `yaml:"description"`
	Classification string     `yaml:"classification"`
	AutomationMode string     `yaml:"automation_mode"`
	Steps          []PlanStep `yaml:"steps"`
}

// PlanStep is one step of a plan.
type PlanStep struct {
	ID                   string   `yaml:"id"`
	Description          string   `yaml:"description"`
	Agent                string   `yaml:"agent"`
	Command              string   `yaml:"command"`
	Risk                 string   `yaml:"risk"`
	RequiresConfirmation bool     `yaml:"requires_confirmation"`
	DependsOn            []string `yaml:"depends_on"`
	Stage                int      `yaml:"stage"`
}

// Workflow converts the plan into a validated workflow model.
func (p *Plan) Workflow() (*models.Workflow, error) {
	wf := &models.Workflow{
		Name:           p.Name,
		Description:    p.Description,
		Classification: models.Classification(p.Classification),
		AutomationMode: models.AutomationMode(p.AutomationMode),
	}
	for _, s := range p.Steps {
		wf.Steps = append(wf.Steps, &models.Step{
			StepID:               s.ID,
			Description:          s.Description,
			AgentType:            s.Agent,
			Command:              s.Command,
			RiskLevel:            models.RiskLevel(s.Risk),
			RequiresConfirmation: s.RequiresConfirmation,
			Predecessors:         s.DependsOn,
			Stage:                s.Stage,
		})
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("plan %q: %w", p.Name, err)
	}
	return wf, nil
}

// Load reads every YAML document in the file and converts each into a
// workflow. A file with a single document yields a single workflow.
func Load(path string) ([]*models.Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode converts a stream of YAML plan documents into workflows.
func Decode(r io.Reader) ([]*models.Workflow, error) {
	dec := yaml.NewDecoder(r)
	var out []*models.Workflow
	for {
		var p Plan
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse plan: %w", err)
		}
		wf, err := p.Workflow()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if len(out) == 0 {
		return nil, errors.New("no plans found")
	}
	return out, nil
}
