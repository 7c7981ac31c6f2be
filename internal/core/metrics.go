package core

import (
	"time"
)

// HealthMetrics is an on-demand aggregate over the task store. Nothing here
// is materialized; every call rescans a snapshot so the numbers cannot
// drift from the records.
type HealthMetrics struct {
	TotalTasks         int     `json:"total_tasks"`
	ActiveTasks        int     `json:"active_tasks"`
	PendingTasks       int     `json:"pending_tasks"`
	CompletedTasks     int     `json:"completed_tasks"`
	FailedTasks        int     `json:"failed_tasks"`
	CancelledTasks     int     `json:"cancelled_tasks"`
	SuccessRate        float64 `json:"success_rate"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
	IsHealthy          bool    `json:"is_healthy"`
}

// AgentPerformance summarizes one agent type's track record.
type AgentPerformance struct {
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	SuccessRate    float64 `json:"success_rate"`
}

// DailyStats is a per-status breakdown plus today's terminal counts, with
// "today" measured in the engine's reference timezone.
type DailyStats struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
	CompletedToday int `json:"completed_today"`
	FailedToday    int `json:"failed_today"`
}

// EngineStatus is the engine-level snapshot served to dashboards.
type EngineStatus struct {
	IsRunning           bool                 `json:"is_running"`
	ActiveTasks         int                  `json:"active_tasks"`
	CompletedTasksToday int                  `json:"completed_tasks_today"`
	FailedTasksToday    int                  `json:"failed_tasks_today"`
	AgentsStatus        map[AgentType]string `json:"agents_status"`
	LastActivity        *time.Time           `json:"last_activity,omitempty"`
}

// HealthMetrics aggregates counts, success rate, and average execution time
// over one store snapshot. Success rate is completed/(completed+failed),
// and 0 when no task has finished. IsHealthy compares the failure rate
// against the configured ceiling.
func (e *Engine) HealthMetrics() HealthMetrics {
	var m HealthMetrics
	var execTotal time.Duration
	var execCount int

	for _, t := range e.store.ListTasks() {
		m.TotalTasks++
		switch t.Status {
		case TaskStatusRunning:
			m.ActiveTasks++
		case TaskStatusPending:
			m.PendingTasks++
		case TaskStatusCompleted:
			m.CompletedTasks++
			if t.StartedAt != nil && t.CompletedAt != nil {
				execTotal += t.CompletedAt.Sub(*t.StartedAt)
				execCount++
			}
		case TaskStatusFailed:
			m.FailedTasks++
		case TaskStatusCancelled:
			m.CancelledTasks++
		}
	}

	finished := m.CompletedTasks + m.FailedTasks
	if finished > 0 {
		m.SuccessRate = float64(m.CompletedTasks) / float64(finished) * 100
	}
	if execCount > 0 {
		m.AvgExecutionTimeMs = float64(execTotal.Milliseconds()) / float64(execCount)
	}

	failureRate := 0.0
	if finished > 0 {
		failureRate = float64(m.FailedTasks) / float64(finished) * 100
	}
	m.IsHealthy = failureRate <= e.cfg.MaxFailureRatePercent
	return m
}

// AgentPerformanceMetrics reports per-agent-type performance. Every one of
// the six types appears, including those with zero tasks.
func (e *Engine) AgentPerformanceMetrics() map[AgentType]AgentPerformance {
	perf := make(map[AgentType]AgentPerformance, len(AgentTypes()))
	failed := make(map[AgentType]int)
	for _, a := range AgentTypes() {
		perf[a] = AgentPerformance{}
	}
	for _, t := range e.store.ListTasks() {
		p := perf[t.AgentType]
		p.TotalTasks++
		switch t.Status {
		case TaskStatusCompleted:
			p.CompletedTasks++
		case TaskStatusFailed:
			failed[t.AgentType]++
		}
		perf[t.AgentType] = p
	}
	for a, p := range perf {
		finished := p.CompletedTasks + failed[a]
		if finished > 0 {
			p.SuccessRate = float64(p.CompletedTasks) / float64(finished) * 100
		}
		perf[a] = p
	}
	return perf
}

// DailyStatistics breaks the store down by status and counts tasks that
// reached a terminal state today.
func (e *Engine) DailyStatistics() DailyStats {
	var d DailyStats
	today := e.now().In(e.loc)
	ty, tm, td := today.Date()

	for _, t := range e.store.ListTasks() {
		d.Total++
		switch t.Status {
		case TaskStatusPending:
			d.Pending++
		case TaskStatusRunning:
			d.Running++
		case TaskStatusCompleted:
			d.Completed++
			if completedOn(t, e.loc, ty, tm, td) {
				d.CompletedToday++
			}
		case TaskStatusFailed:
			d.Failed++
			if completedOn(t, e.loc, ty, tm, td) {
				d.FailedToday++
			}
		case TaskStatusCancelled:
			d.Cancelled++
		}
	}
	return d
}

// Status returns the engine-level snapshot: driver state, live counts,
// today's terminal counts, the agent status map, and the last mutation time.
func (e *Engine) Status() EngineStatus {
	daily := e.DailyStatistics()

	running := make(map[AgentType]int)
	for _, t := range e.store.ListTasksByStatus(TaskStatusRunning) {
		running[t.AgentType]++
	}

	e.mu.Lock()
	agents := make(map[AgentType]string, len(e.agents))
	for a := range e.agents {
		if running[a] > 0 {
			agents[a] = "busy"
		} else {
			agents[a] = "idle"
		}
	}
	last := cloneTime(e.lastActivity)
	e.mu.Unlock()

	return EngineStatus{
		IsRunning:           e.IsRunning(),
		ActiveTasks:         daily.Running,
		CompletedTasksToday: daily.CompletedToday,
		FailedTasksToday:    daily.FailedToday,
		AgentsStatus:        agents,
		LastActivity:        last,
	}
}

func completedOn(t *AgentTask, loc *time.Location, y int, m time.Month, d int) bool {
	if t.CompletedAt == nil {
		return false
	}
	cy, cm, cd := t.CompletedAt.In(loc).Date()
	return cy == y && cm == m && cd == d
}
