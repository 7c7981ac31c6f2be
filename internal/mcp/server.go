package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentflow/internal/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the orchestration engine as MCP tools, over stdio or
// mounted on the HTTP API.
type MCPServer struct {
	engine *core.Engine
	logger *slog.Logger

	srv  *server.MCPServer
	http *server.StreamableHTTPServer
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(engine *core.Engine, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		engine: engine,
		logger: logger,
	}
	s.srv = server.NewMCPServer(
		"agentflow",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	s.http = server.NewStreamableHTTPServer(s.srv)
	return s
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.srv)
}

// ServeHTTP serves the MCP protocol over streamable HTTP.
func (s *MCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools() {
	agentTypes := make([]string, 0, len(core.AgentTypes()))
	for _, a := range core.AgentTypes() {
		agentTypes = append(agentTypes, string(a))
	}

	s.srv.AddTool(mcp.NewTool("schedule_task",
		mcp.WithDescription("Schedule a new agent task. Provide a cron expression (standard 5 fields: minute hour day month weekday) for recurring work, or scheduled_at for a one-shot delay."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Task name"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What the task should accomplish"),
		),
		mcp.WithString("priority",
			mcp.Description("low, medium, high or urgent (default medium)"),
			mcp.Enum("low", "medium", "high", "urgent"),
		),
		mcp.WithString("agent_type",
			mcp.Required(),
			mcp.Description("Agent responsible for the task"),
			mcp.Enum(agentTypes...),
		),
		mcp.WithString("cron",
			mcp.Description("Cron expression for recurring execution, e.g. '0 9 * * 1-5' for weekday mornings"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone for the cron expression (default engine timezone)"),
		),
		mcp.WithString("scheduled_at",
			mcp.Description("RFC3339 time before which the task will not be dispatched"),
		),
	), s.handleScheduleTask)

	s.srv.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List agent tasks, optionally filtered by status"),
		mcp.WithString("status",
			mcp.Description("Filter: pending, running, completed, failed or cancelled"),
			mcp.Enum("pending", "running", "completed", "failed", "cancelled"),
		),
	), s.handleListTasks)

	s.srv.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get task details including its recent log entries"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	s.srv.AddTool(mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel a task. Completed and already-cancelled tasks cannot be cancelled."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleTransition("cancel", func(id string) bool { return s.engine.CancelTask(id) }))

	s.srv.AddTool(mcp.NewTool("retry_task",
		mcp.WithDescription("Reset a failed task to pending so it is dispatched again"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleTransition("retry", func(id string) bool { return s.engine.RetryTask(id) }))

	s.srv.AddTool(mcp.NewTool("pause_task",
		mcp.WithDescription("Pause a running task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleTransition("pause", func(id string) bool { return s.engine.PauseTask(id) }))

	s.srv.AddTool(mcp.NewTool("resume_task",
		mcp.WithDescription("Resume a previously paused task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleTransition("resume", func(id string) bool { return s.engine.ResumeTask(id) }))

	s.srv.AddTool(mcp.NewTool("health_metrics",
		mcp.WithDescription("Report engine health: task counts, success rate and average execution time"),
	), s.handleHealthMetrics)

	s.srv.AddTool(mcp.NewTool("cleanup_tasks",
		mcp.WithDescription("Archive and remove finished tasks older than the retention window"),
		mcp.WithNumber("retention_days",
			mcp.Description("Retention window in days, default 30"),
			mcp.Min(0),
		),
	), s.handleCleanup)

	s.srv.AddTool(mcp.NewTool("export_tasks",
		mcp.WithDescription("Export all tasks as JSON or CSV"),
		mcp.WithString("format",
			mcp.Description("json or csv, default json"),
			mcp.Enum("json", "csv"),
		),
	), s.handleExport)

	s.srv.AddTool(mcp.NewTool("cron_preview",
		mcp.WithDescription("Preview the next fire times of a cron expression"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone to evaluate in"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of occurrences, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.logger.Info("MCP tools registered", "count", 11)
}

func (s *MCPServer) handleScheduleTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := core.TaskRequest{
		Name:           mcp.ParseString(request, "name", ""),
		Description:    mcp.ParseString(request, "description", ""),
		Priority:       core.Priority(mcp.ParseString(request, "priority", string(core.PriorityMedium))),
		AgentType:      core.AgentType(mcp.ParseString(request, "agent_type", "")),
		CronExpression: mcp.ParseString(request, "cron", ""),
		Timezone:       mcp.ParseString(request, "timezone", ""),
	}

	if raw := mcp.ParseString(request, "scheduled_at", ""); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid scheduled_at: %v", err)), nil
		}
		req.ScheduledAt = &parsed
	}

	task, err := s.engine.ScheduleTask(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to schedule task: %v", err)), nil
	}

	s.logger.Info("task scheduled via mcp", "task_id", task.ID, "agent_type", task.AgentType)

	result := fmt.Sprintf("Task scheduled\nID: %s\nAgent: %s\nPriority: %s", task.ID, task.AgentType, task.Priority)
	if task.CronExpression != "" {
		result += fmt.Sprintf("\nCron: %s", task.CronExpression)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tasks []*core.AgentTask
	if statusStr := mcp.ParseString(request, "status", ""); statusStr != "" {
		status := core.TaskStatus(statusStr)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", statusStr)), nil
		}
		tasks = s.engine.GetTasksByStatus(status)
	} else {
		tasks = s.engine.GetTasks()
	}

	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s [%s] %s\n", t.ID, t.Status, t.Name)
		fmt.Fprintf(&b, "  Agent: %s  Priority: %s  Progress: %d%%\n", t.AgentType, t.Priority, t.Progress)
		if t.CronExpression != "" {
			fmt.Fprintf(&b, "  Cron: %s\n", t.CronExpression)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	task, err := s.engine.GetTask(taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", task.ID)
	fmt.Fprintf(&b, "Name: %s\n", task.Name)
	fmt.Fprintf(&b, "Description: %s\n", task.Description)
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	fmt.Fprintf(&b, "Agent: %s\n", task.AgentType)
	fmt.Fprintf(&b, "Priority: %s\n", task.Priority)
	fmt.Fprintf(&b, "Progress: %d%%\n", task.Progress)
	if task.CronExpression != "" {
		fmt.Fprintf(&b, "Cron: %s\n", task.CronExpression)
	}
	fmt.Fprintf(&b, "Created: %s\n", formatTime(&task.CreatedAt))
	if task.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", formatTime(task.StartedAt))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s\n", formatTime(task.CompletedAt))
	}
	if logs := task.RecentLogs(5); len(logs) > 0 {
		b.WriteString("Recent logs:\n")
		for _, entry := range logs {
			fmt.Fprintf(&b, "  [%s] %s %s\n", entry.Level, formatTime(&entry.Timestamp), entry.Message)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleTransition(verb string, apply func(string) bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		if _, err := s.engine.GetTask(taskID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		if !apply(taskID) {
			return mcp.NewToolResultError(fmt.Sprintf("cannot %s task %s in its current state", verb, taskID)), nil
		}
		s.logger.Info("task transition via mcp", "task_id", taskID, "op", verb)
		return mcp.NewToolResultText(fmt.Sprintf("Task %s: %s applied", taskID, verb)), nil
	}
}

func (s *MCPServer) handleHealthMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.engine.HealthMetrics()
	result := fmt.Sprintf(
		"Total: %d\nPending: %d\nRunning: %d\nCompleted: %d\nFailed: %d\nCancelled: %d\nSuccess rate: %.1f%%\nAvg execution: %.0f ms\nHealthy: %t",
		m.TotalTasks, m.PendingTasks, m.ActiveTasks, m.CompletedTasks, m.FailedTasks, m.CancelledTasks,
		m.SuccessRate, m.AvgExecutionTimeMs, m.IsHealthy,
	)
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleCleanup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := int(mcp.ParseFloat64(request, "retention_days", 30))
	n := s.engine.CleanupOldTasks(days)
	return mcp.NewToolResultText(fmt.Sprintf("Removed %d finished tasks older than %d days", n, days)), nil
}

func (s *MCPServer) handleExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := mcp.ParseString(request, "format", core.ExportJSON)
	data, err := s.engine.ExportTaskData(format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := mcp.ParseString(request, "cron", "")
	tz := mcp.ParseString(request, "timezone", "")
	count := int(mcp.ParseFloat64(request, "count", 5))
	if count <= 0 || count > 10 {
		count = 5
	}

	times, err := core.NextOccurrences(s.engine.Evaluator(), expr, tz, time.Now(), count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Next %d fire times for %q:\n", len(times), expr)
	for _, t := range times {
		fmt.Fprintf(&b, "  %s\n", t.UTC().Format(time.RFC3339))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
