package core

import (
	"time"
)

// TaskStatus describes the lifecycle state of an agent task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskStatuses lists every valid status in a stable order.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusRunning,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
}

// IsTerminal reports whether the status admits no further progress.
// Failed tasks are terminal but may be retried.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Priority determines dispatch order within a tick.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// rank orders priorities for dispatch; higher runs first.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// AgentType identifies which kind of agent a task is intended for.
type AgentType string

const (
	AgentIntake   AgentType = "intake"
	AgentSpinUp   AgentType = "spin_up"
	AgentPM       AgentType = "pm"
	AgentLaunch   AgentType = "launch"
	AgentHandover AgentType = "handover"
	AgentSupport  AgentType = "support"
)

// AgentTypes lists all six agent types in a stable order.
func AgentTypes() []AgentType {
	return []AgentType{AgentIntake, AgentSpinUp, AgentPM, AgentLaunch, AgentHandover, AgentSupport}
}

// Valid reports whether a is one of the six known agent types.
func (a AgentType) Valid() bool {
	for _, t := range AgentTypes() {
		if a == t {
			return true
		}
	}
	return false
}

// LogLevel classifies a task log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
)

// LogEntry is one line of a task's append-only log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// AgentTask is a unit of schedulable work. Records are owned by the
// TaskStore; callers always operate on copies.
type AgentTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	AgentType      AgentType  `json:"agent_type"`
	Progress       int        `json:"progress"`
	Logs           []LogEntry `json:"logs"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
}

// Clone returns a deep copy of the task, including its log slice.
func (t *AgentTask) Clone() *AgentTask {
	c := *t
	if t.Logs != nil {
		c.Logs = make([]LogEntry, len(t.Logs))
		copy(c.Logs, t.Logs)
	}
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.ScheduledAt = cloneTime(t.ScheduledAt)
	return &c
}

// appendLog records a log entry and bumps UpdatedAt.
func (t *AgentTask) appendLog(now time.Time, level LogLevel, message string) {
	t.Logs = append(t.Logs, LogEntry{Timestamp: now, Level: level, Message: message})
	t.UpdatedAt = now
}

// RecentLogs returns up to n of the most recent log entries.
func (t *AgentTask) RecentLogs(n int) []LogEntry {
	if n <= 0 || n >= len(t.Logs) {
		out := make([]LogEntry, len(t.Logs))
		copy(out, t.Logs)
		return out
	}
	out := make([]LogEntry, n)
	copy(out, t.Logs[len(t.Logs)-n:])
	return out
}

// Schedule binds a cron recurrence to a template task. The schedule
// references the task; it does not own it.
type Schedule struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	CronExpression string    `json:"cron_expression"`
	Timezone       string    `json:"timezone,omitempty"`
	IsActive       bool      `json:"is_active"`
	NextRun        time.Time `json:"next_run"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TaskRequest is an external task creation request.
type TaskRequest struct {
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Priority       Priority   `json:"priority"`
	AgentType      AgentType  `json:"agent_type"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
