// Package mcp exposes the orchestrator to MCP-speaking agents: starting
// workflows, polling their state and resolving approval gates as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/engine"
	"github.com/mrveiss/AutoBot-AI-sub016/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Orchestrator
}

func NewServer(eng *engine.Orchestrator) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Orchestrator",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: eng,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Create a workflow from a JSON plan and start executing it"),
			mcp.WithString("plan", mcp.Required(), mcp.Description("The workflow plan as a JSON document (name, automation_mode, steps)")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_status",
			mcp.WithDescription("Get the current snapshot of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleWorkflowStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_step",
			mcp.WithDescription("Approve a step that is waiting for confirmation"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the waiting step")),
			mcp.WithString("user_input", mcp.Description("Optional guidance forwarded to the step's executor")),
		),
		s.handleApproveStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"deny_step",
			mcp.WithDescription("Deny a step that is waiting for confirmation; the step and its dependents are skipped"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the waiting step")),
			mcp.WithString("user_input", mcp.Description("Optional reason recorded on the skipped step")),
		),
		s.handleDenyStep,
	)
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	plan, ok := args["plan"].(string)
	if !ok || plan == "" {
		return mcp.NewToolResultError("Missing required parameter: plan"), nil
	}

	var wf models.Workflow
	if err := json.Unmarshal([]byte(plan), &wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid plan JSON: %v", err)), nil
	}

	created, err := s.engine.Create(ctx, &wf, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(created)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	wf, err := s.engine.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(wf)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApproveStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleDecision(ctx, request, true)
}

func (s *Server) handleDenyStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleDecision(ctx, request, false)
}

func (s *Server) handleDecision(ctx context.Context, request mcp.CallToolRequest, approve bool) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	stepID, ok := args["step_id"].(string)
	if !ok || stepID == "" {
		return mcp.NewToolResultError("Missing required parameter: step_id"), nil
	}
	userInput, _ := args["user_input"].(string)

	var (
		applied bool
		err     error
	)
	if approve {
		applied, err = s.engine.Approve(ctx, workflowID, stepID, userInput)
	} else {
		applied, err = s.engine.Deny(ctx, workflowID, stepID, userInput)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve step: %v", err)), nil
	}
	if !applied {
		return mcp.NewToolResultText("Step was already resolved"), nil
	}
	if approve {
		return mcp.NewToolResultText("Step approved"), nil
	}
	return mcp.NewToolResultText("Step denied"), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
