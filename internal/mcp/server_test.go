package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"agentflow/internal/core"
)

func newTestMCP(t *testing.T) (*MCPServer, *core.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := core.NewEngine(core.Config{}, logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewMCPServer(engine, logger), engine
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is not text: %T", res.Content[0])
	}
	return tc.Text
}

func TestScheduleTaskTool(t *testing.T) {
	s, engine := newTestMCP(t)

	res, err := s.handleScheduleTask(context.Background(), toolRequest(map[string]any{
		"name":        "weekly digest",
		"description": "send the digest email",
		"agent_type":  "support",
		"priority":    "high",
	}))
	if err != nil {
		t.Fatalf("handleScheduleTask: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", textContent(t, res))
	}
	if !strings.Contains(textContent(t, res), "Task scheduled") {
		t.Fatalf("unexpected result: %s", textContent(t, res))
	}

	tasks := engine.GetTasks()
	if len(tasks) != 1 || tasks[0].AgentType != core.AgentSupport {
		t.Fatalf("tasks = %+v", tasks)
	}

	// Validation failures surface as tool errors, not Go errors.
	res, err = s.handleScheduleTask(context.Background(), toolRequest(map[string]any{
		"name": "incomplete",
	}))
	if err != nil {
		t.Fatalf("handleScheduleTask: %v", err)
	}
	if !res.IsError {
		t.Fatal("invalid request must produce a tool error result")
	}
}

func TestGetAndListTools(t *testing.T) {
	s, engine := newTestMCP(t)

	res, _ := s.handleListTasks(context.Background(), toolRequest(nil))
	if got := textContent(t, res); got != "No tasks found" {
		t.Fatalf("empty list = %q", got)
	}

	task, _ := engine.ScheduleTask(core.TaskRequest{
		Name: "a", Description: "d", Priority: core.PriorityLow, AgentType: core.AgentPM,
	})

	res, _ = s.handleListTasks(context.Background(), toolRequest(map[string]any{"status": "pending"}))
	if !strings.Contains(textContent(t, res), task.ID) {
		t.Fatalf("list missing task: %s", textContent(t, res))
	}

	res, _ = s.handleGetTask(context.Background(), toolRequest(map[string]any{"task_id": task.ID}))
	if !strings.Contains(textContent(t, res), "Status: pending") {
		t.Fatalf("get = %s", textContent(t, res))
	}

	res, _ = s.handleGetTask(context.Background(), toolRequest(map[string]any{"task_id": "nope"}))
	if !res.IsError {
		t.Fatal("unknown task must produce a tool error")
	}
}

func TestTransitionTool(t *testing.T) {
	s, engine := newTestMCP(t)

	task, _ := engine.ScheduleTask(core.TaskRequest{
		Name: "a", Description: "d", Priority: core.PriorityLow, AgentType: core.AgentPM,
	})

	cancel := s.handleTransition("cancel", engine.CancelTask)
	res, err := cancel(context.Background(), toolRequest(map[string]any{"task_id": task.ID}))
	if err != nil || res.IsError {
		t.Fatalf("cancel failed: err=%v res=%v", err, res)
	}
	got, _ := engine.GetTask(task.ID)
	if got.Status != core.TaskStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	res, _ = cancel(context.Background(), toolRequest(map[string]any{"task_id": task.ID}))
	if !res.IsError {
		t.Fatal("cancelling a cancelled task must produce a tool error")
	}
}

func TestCronPreviewTool(t *testing.T) {
	s, _ := newTestMCP(t)

	res, _ := s.handleCronPreview(context.Background(), toolRequest(map[string]any{
		"cron":  "*/10 * * * *",
		"count": float64(3),
	}))
	if res.IsError {
		t.Fatalf("preview error: %s", textContent(t, res))
	}
	if !strings.Contains(textContent(t, res), "Next 3 fire times") {
		t.Fatalf("preview = %s", textContent(t, res))
	}

	res, _ = s.handleCronPreview(context.Background(), toolRequest(map[string]any{"cron": "@daily"}))
	if !res.IsError {
		t.Fatal("descriptor expressions must be rejected")
	}
}

func TestExportTool(t *testing.T) {
	s, engine := newTestMCP(t)
	engine.ScheduleTask(core.TaskRequest{
		Name: "a", Description: "d", Priority: core.PriorityLow, AgentType: core.AgentPM,
	})

	res, _ := s.handleExport(context.Background(), toolRequest(map[string]any{"format": "csv"}))
	if res.IsError {
		t.Fatalf("export error: %s", textContent(t, res))
	}
	if !strings.HasPrefix(textContent(t, res), "id,name,description") {
		t.Fatalf("csv export = %s", textContent(t, res))
	}

	res, _ = s.handleExport(context.Background(), toolRequest(map[string]any{"format": "xml"}))
	if !res.IsError {
		t.Fatal("unsupported format must produce a tool error")
	}
}
