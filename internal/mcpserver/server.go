// Package mcpserver exposes workflows as MCP tools over SSE.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/repository"
)

// BasePath is where the SSE endpoints are mounted: BasePath+"/sse" and
// BasePath+"/message".
const BasePath = "/mcp"

// Runner starts executions and reads their records.
type Runner interface {
	Run(ctx context.Context, wf *model.Workflow, input map[string]any) (string, error)
	Execution(ctx context.Context, id string) (*model.Execution, error)
}

type Server struct {
	mcpServer *server.MCPServer
	workflows repository.WorkflowStore
	runner    Runner
}

func NewServer(version string, workflows repository.WorkflowStore, runner Runner) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"flowgrid",
			version,
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
		runner:    runner,
	}
	s.registerTools()
	return s
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Handler serves the SSE transport under BasePath.
func (s *Server) Handler() http.Handler {
	return server.NewSSEServer(s.mcpServer, server.WithStaticBasePath(BasePath))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the stored workflows"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Start an execution of a workflow and return its execution id"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The ID of the workflow")),
			mcp.WithString("input", mcp.Description("The input payload as a JSON object")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Get the status and output of an execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleGetExecution,
	)
}

type workflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Nodes       int    `json:"nodes"`
}

func (s *Server) handleListWorkflows(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.workflows.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}
	out := make([]workflowSummary, 0, len(list))
	for _, wf := range list {
		out = append(out, workflowSummary{ID: wf.ID, Name: wf.Name, Description: wf.Description, Nodes: len(wf.Nodes)})
	}
	return jsonResult(out)
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	input := map[string]any{}
	if raw, ok := args["input"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Input must be a JSON object: %v", err)), nil
		}
	}

	wf, err := s.workflows.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load workflow: %v", err)), nil
	}
	execID, err := s.runner.Run(ctx, wf, input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}
	return jsonResult(map[string]string{"execution_id": execID, "status": string(model.StatusPending)})
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := request.GetArguments()["execution_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: execution_id"), nil
	}
	exec, err := s.runner.Execution(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get execution: %v", err)), nil
	}
	return jsonResult(exec)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
