// workflowctl is a small operator CLI for the orchestrator's REST API: it
// submits plan files and drives the approval and lifecycle endpoints.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/api"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/planfile"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/services"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "workflowctl",
	Short: "Control the workflow orchestration service",
	Long:  `workflowctl submits workflow plans and drives approvals, pauses and cancellations against a running orchestrator.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the orchestrator")
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(lifecycleCmd("pause", "Stop dispatching new steps"))
	rootCmd.AddCommand(lifecycleCmd("resume", "Re-enter the dispatch loop from paused"))
	rootCmd.AddCommand(lifecycleCmd("cancel", "Cancel a workflow; running steps drain naturally"))

	submitCmd.Flags().BoolVar(&submitStart, "start", false, "Start executing immediately after submit")
	approveCmd.Flags().StringVar(&decisionInput, "input", "", "Guidance forwarded to the step's executor")
	denyCmd.Flags().StringVar(&decisionInput, "input", "", "Reason recorded on the skipped step")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by workflow status")
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listPerPage, "per-page", 20, "Results per page")
}

var submitStart bool

var submitCmd = &cobra.Command{
	Use:          "submit <plan-file>",
	Short:        "Submit workflow plans from a YAML file",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, err := planfile.Load(args[0])
		if err != nil {
			return err
		}
		for _, wf := range plans {
			var created models.Workflow
			req := api.CreateWorkflowRequest{Workflow: wf, AutoStart: submitStart}
			if err := call(http.MethodPost, "/api/v1/workflows", req, &created); err != nil {
				return fmt.Errorf("submit %q: %w", wf.Name, err)
			}
			fmt.Printf("%s\t%s\t%s\n", created.ID, created.Status, created.Name)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:          "get <workflow-id>",
	Short:        "Print the full snapshot of a workflow",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var wf models.Workflow
		if err := call(http.MethodGet, "/api/v1/workflows/"+args[0], nil, &wf); err != nil {
			return err
		}
		printWorkflow(&wf)
		return nil
	},
}

var (
	listStatus  string
	listPage    int
	listPerPage int
)

var listCmd = &cobra.Command{
	Use:          "list",
	Short:        "List workflows, newest first",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/v1/workflows?status=%s&page=%d&per_page=%d",
			listStatus, listPage, listPerPage)
		var page services.WorkflowPage
		if err := call(http.MethodGet, path, nil, &page); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMODE\tSTEPS\tNAME")
		for _, wf := range page.Workflows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", wf.ID, wf.Status, wf.AutomationMode, len(wf.Steps), wf.Name)
		}
		w.Flush()
		fmt.Printf("page %d of %d total\n", page.Page, page.Total)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:          "stats <workflow-id>",
	Short:        "Print aggregated run statistics",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats models.WorkflowStats
		if err := call(http.MethodGet, "/api/v1/workflows/"+args[0]+"/stats", nil, &stats); err != nil {
			return err
		}
		fmt.Printf("status:    %s\n", stats.Status)
		fmt.Printf("steps:     %d total, %d completed, %d failed, %d skipped\n",
			stats.TotalSteps, stats.Completed, stats.Failed, stats.Skipped)
		fmt.Printf("duration:  %s\n", stats.Duration.Round(time.Millisecond))
		return nil
	},
}

var decisionInput string

var approveCmd = &cobra.Command{
	Use:          "approve <workflow-id> <step-id>",
	Short:        "Approve a step waiting for confirmation",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(args[0], args[1], "approve")
	},
}

var denyCmd = &cobra.Command{
	Use:          "deny <workflow-id> <step-id>",
	Short:        "Deny a waiting step; it and its dependents are skipped",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(args[0], args[1], "deny")
	},
}

var startCmd = &cobra.Command{
	Use:          "start <workflow-id>",
	Short:        "Start executing a planned workflow",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var wf models.Workflow
		if err := call(http.MethodPost, "/api/v1/workflows/"+args[0]+"/start", nil, &wf); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", wf.ID, wf.Status)
		return nil
	},
}

func lifecycleCmd(op, short string) *cobra.Command {
	return &cobra.Command{
		Use:          op + " <workflow-id>",
		Short:        short,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res api.LifecycleResponse
			if err := call(http.MethodPost, "/api/v1/workflows/"+args[0]+"/"+op, nil, &res); err != nil {
				return err
			}
			if !res.Applied {
				fmt.Printf("%s: nothing to do (status %s)\n", op, res.Workflow.Status)
				return nil
			}
			fmt.Printf("%s\t%s\n", res.Workflow.ID, res.Workflow.Status)
			return nil
		},
	}
}

func decide(workflowID, stepID, op string) error {
	var res api.LifecycleResponse
	req := api.DecisionRequest{StepID: stepID, UserInput: decisionInput}
	if err := call(http.MethodPost, "/api/v1/workflows/"+workflowID+"/"+op, req, &res); err != nil {
		return err
	}
	if !res.Applied {
		fmt.Printf("step %s was already resolved\n", stepID)
		return nil
	}
	fmt.Printf("step %s %sd\n", stepID, op)
	return nil
}

func call(method, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var p api.ProblemDetails
		if err := json.NewDecoder(resp.Body).Decode(&p); err == nil && p.Title != "" {
			return fmt.Errorf("%s: %s", p.Title, p.Detail)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printWorkflow(wf *models.Workflow) {
	fmt.Printf("id:       %s\n", wf.ID)
	fmt.Printf("name:     %s\n", wf.Name)
	fmt.Printf("status:   %s\n", wf.Status)
	fmt.Printf("mode:     %s\n", wf.AutomationMode)
	if len(wf.AgentsInvolved) > 0 {
		fmt.Printf("agents:   %s\n", strings.Join(wf.AgentsInvolved, ", "))
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tAGENT\tRISK\tDETAIL")
	for _, st := range wf.Steps {
		detail := st.SkipReason
		if detail == "" && st.Status == models.StepFailed {
			detail = firstLine(st.ExecutionResult)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.StepID, st.Status, st.AgentType, st.RiskLevel, detail)
	}
	w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
