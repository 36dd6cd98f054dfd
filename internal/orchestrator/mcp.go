package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/logger"
)

// MCPConfig configures the in-process MCP surface exposing §6.1's task API
// to a host agent.
type MCPConfig struct {
	Port int
}

// MCPServer wraps the SSE and Streamable HTTP MCP transports over a
// Context's task API, mirroring the teacher's dual-transport server.
type MCPServer struct {
	ctx  *Context
	cfg  MCPConfig
	log  *logger.Logger
	mu   sync.Mutex

	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	running              bool

	// Port is populated once Start succeeds, reflecting the OS-assigned
	// port when cfg.Port was 0.
	Port int
}

// NewMCPServer builds an MCPServer bound to orchestratorCtx's task API.
func NewMCPServer(orchestratorCtx *Context, cfg MCPConfig) *MCPServer {
	return &MCPServer{
		ctx: orchestratorCtx,
		cfg: cfg,
		log: orchestratorCtx.logger.WithFields(zap.String("component", "mcp-server")),
	}
}

// Start registers the task_* tools and serves both MCP transports in the
// background.
func (s *MCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcp server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer("nodeforge-orchestrator", "1.0.0", server.WithToolCapabilities(true))
	s.registerTools(mcpServer)

	s.sseServer = server.NewSSEServer(mcpServer)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen for mcp server: %w", err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.log.Info("mcp server listening", zap.Int("port", s.Port))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("mcp server stopped unexpectedly")
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both MCP transports.
func (s *MCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown mcp http server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("mcp sse server did not shut down cleanly")
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("mcp streamable http server did not shut down cleanly")
		}
	}
	return nil
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("task_start",
			mcp.WithDescription("Start a worker or workflow task. Returns immediately with a taskId; use task_await to collect the result."),
			mcp.WithString("kind", mcp.Description("auto (default), worker, or workflow")),
			mcp.WithString("task", mcp.Required(), mcp.Description("The task/prompt text")),
			mcp.WithString("workerId", mcp.Description("Worker profile id, required for kind=worker")),
			mcp.WithString("workflowId", mcp.Description("Workflow id, required for kind=workflow")),
			mcp.WithString("continueRunId", mcp.Description("Resume a paused workflow run instead of starting a new one")),
			mcp.WithBoolean("autoSpawn", mcp.Description("Allow spawning a fresh worker if none is available")),
			mcp.WithNumber("timeoutMs", mcp.Description("Per-step or per-prompt timeout in milliseconds")),
			mcp.WithString("from", mcp.Description("Identifier of the caller, for attribution")),
		),
		s.taskStartHandler(),
	)

	mcpServer.AddTool(
		mcp.NewTool("task_await",
			mcp.WithDescription("Block until one or more tasks reach a terminal status, or timeoutMs elapses."),
			mcp.WithArray("taskIds", mcp.Required(), mcp.Description("Job ids to await")),
			mcp.WithNumber("timeoutMs", mcp.Description("Maximum time to wait, in milliseconds")),
		),
		s.taskAwaitHandler(),
	)

	mcpServer.AddTool(
		mcp.NewTool("task_peek",
			mcp.WithDescription("Return the current state of one or more tasks without waiting."),
			mcp.WithArray("taskIds", mcp.Required(), mcp.Description("Job ids to inspect")),
		),
		s.taskPeekHandler(),
	)

	mcpServer.AddTool(
		mcp.NewTool("task_list",
			mcp.WithDescription("List tasks, workers, profiles, models, workflows, overall status, or worker output."),
			mcp.WithString("view", mcp.Description("tasks|workers|profiles|models|workflows|status|output (default tasks)")),
			mcp.WithString("format", mcp.Description("markdown (default) or json")),
			mcp.WithString("workerId", mcp.Description("Filter by worker id, where applicable")),
		),
		s.taskListHandler(),
	)

	mcpServer.AddTool(
		mcp.NewTool("task_cancel",
			mcp.WithDescription("Mark one or more running tasks canceled. Best-effort: in-flight worker prompts are not interrupted."),
			mcp.WithArray("taskIds", mcp.Required(), mcp.Description("Job ids to cancel")),
			mcp.WithString("reason", mcp.Description("Optional cancellation reason")),
		),
		s.taskCancelHandler(),
	)

	s.log.Info("registered MCP tools", zap.Int("count", 5))
}

func (s *MCPServer) taskStartHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		input := TaskStartInput{
			Kind:          TaskKind(req.GetString("kind", "")),
			Task:          task,
			WorkerID:      req.GetString("workerId", ""),
			WorkflowID:    req.GetString("workflowId", ""),
			ContinueRunID: req.GetString("continueRunId", ""),
			From:          req.GetString("from", ""),
		}
		args := req.GetArguments()
		if v, ok := args["autoSpawn"].(bool); ok {
			input.AutoSpawn = v
		}
		if v, ok := args["timeoutMs"].(float64); ok {
			input.TimeoutMs = int64(v)
		}

		result, err := s.ctx.TaskStart(ctx, input)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonToolResult(result)
	}
}

func (s *MCPServer) taskAwaitHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskIDs, err := stringSliceArg(req, "taskIds")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var timeoutMs int64
		if v, ok := req.GetArguments()["timeoutMs"].(float64); ok {
			timeoutMs = int64(v)
		}

		jobs, err := s.ctx.TaskAwait(ctx, taskIDs, timeoutMs)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonToolResult(jobs)
	}
}

func (s *MCPServer) taskPeekHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskIDs, err := stringSliceArg(req, "taskIds")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonToolResult(s.ctx.TaskPeek(taskIDs))
	}
}

func (s *MCPServer) taskListHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rendered, err := s.ctx.TaskList(TaskListInput{
			View:     TaskListView(req.GetString("view", "")),
			Format:   TaskListFormat(req.GetString("format", "")),
			WorkerID: req.GetString("workerId", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(rendered), nil
	}
}

func (s *MCPServer) taskCancelHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskIDs, err := stringSliceArg(req, "taskIds")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reason := req.GetString("reason", "")
		return mcp.NewToolResultText(s.ctx.TaskCancel(taskIDs, reason)), nil
	}
}

// stringSliceArg decodes a required array-of-string MCP argument by
// round-tripping through JSON, mirroring the teacher's handling of its
// "options" array argument.
func stringSliceArg(req mcp.CallToolRequest, name string) ([]string, error) {
	raw, ok := req.GetArguments()[name]
	if !ok {
		return nil, fmt.Errorf("%s is required", name)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var out []string
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("%s must be an array of strings: %w", name, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s must not be empty", name)
	}
	return out, nil
}

func jsonToolResult(v interface{}) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
