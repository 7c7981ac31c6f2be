package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"agentflow/internal/core"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req core.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	task, err := s.engine.ScheduleTask(req)
	if err != nil {
		if core.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		s.logger.Error("schedule task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to schedule task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type batchRequest struct {
	Tasks []core.TaskRequest `json:"tasks"`
}

type batchResponse struct {
	Tasks  []*core.AgentTask `json:"tasks"`
	Errors []string          `json:"errors,omitempty"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "tasks must not be empty")
		return
	}

	tasks, err := s.engine.ScheduleBatchTasks(req.Tasks)
	res := batchResponse{Tasks: tasks}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			res.Errors = append(res.Errors, line)
		}
	}
	status := http.StatusCreated
	if len(tasks) == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []*core.AgentTask
	switch {
	case r.URL.Query().Get("status") != "":
		status := core.TaskStatus(r.URL.Query().Get("status"))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown status filter")
			return
		}
		tasks = s.engine.GetTasksByStatus(status)
	case r.URL.Query().Get("agent_type") != "":
		agent := core.AgentType(r.URL.Query().Get("agent_type"))
		if !agent.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown agent_type filter")
			return
		}
		tasks = s.engine.GetTasksByAgentType(agent)
	case r.URL.Query().Get("priority") != "":
		priority := core.Priority(r.URL.Query().Get("priority"))
		if !priority.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown priority filter")
			return
		}
		tasks = s.engine.GetTasksByPriority(priority)
	default:
		tasks = s.engine.GetTasks()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// transition applies a task mutation and maps a false result to 409.
// The engine refuses both unknown IDs and disallowed transitions with the
// same false, so the handler checks existence first to pick 404 over 409.
func (s *Server) transition(w http.ResponseWriter, taskID string, apply func(string) bool) {
	if _, err := s.engine.GetTask(taskID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if !apply(taskID) {
		writeError(w, http.StatusConflict, "conflict", "task state does not allow this operation")
		return
	}
	task, err := s.engine.GetTask(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "taskID"), s.engine.CancelTask)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "taskID"), s.engine.RetryTask)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "taskID"), s.engine.PauseTask)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.transition(w, chi.URLParam(r, "taskID"), s.engine.ResumeTask)
}

type progressRequest struct {
	Progress int `json:"progress"`
}

func (s *Server) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	s.transition(w, chi.URLParam(r, "taskID"), func(id string) bool {
		return s.engine.SetProgress(id, req.Progress)
	})
}

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	n := s.engine.PauseAllTasks()
	writeJSON(w, http.StatusOK, map[string]int{"paused": n})
}

func (s *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	n := s.engine.ResumeAllTasks()
	writeJSON(w, http.StatusOK, map[string]int{"resumed": n})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("retention_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "retention_days must be a non-negative integer")
			return
		}
		days = parsed
	}
	n := s.engine.CleanupOldTasks(days)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.engine.GetSchedules()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = core.ExportJSON
	}
	data, err := s.engine.ExportTaskData(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	switch format {
	case core.ExportCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
