package core

import (
	"fmt"
	"time"
)

// The transition functions below are the only code allowed to change a
// task's Status. Each operates on a single record, returns false when the
// guard rejects the transition, and leaves the record untouched on
// rejection so callers can probe feasibility without side effects.

// startTask moves pending -> running and stamps StartedAt on first start.
func startTask(t *AgentTask, now time.Time) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	t.Status = TaskStatusRunning
	if t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	t.appendLog(now, LogInfo, "task started")
	return true
}

// pauseTask moves running -> pending. StartedAt is kept so a later resume
// can tell a paused task apart from one that never ran.
func pauseTask(t *AgentTask, now time.Time) bool {
	if t.Status != TaskStatusRunning {
		return false
	}
	t.Status = TaskStatusPending
	t.appendLog(now, LogInfo, "task paused")
	return true
}

// resumeTask moves a previously started pending task back to running.
// A pending task with no StartedAt was never started; resuming it fails.
func resumeTask(t *AgentTask, now time.Time) bool {
	if t.Status != TaskStatusPending || t.StartedAt == nil {
		return false
	}
	t.Status = TaskStatusRunning
	t.appendLog(now, LogInfo, "task resumed")
	return true
}

// retryTask moves failed -> pending, resetting progress and clearing the
// terminal timestamp so the task can run again.
func retryTask(t *AgentTask, now time.Time) bool {
	if t.Status != TaskStatusFailed {
		return false
	}
	t.Status = TaskStatusPending
	t.Progress = 0
	t.CompletedAt = nil
	t.appendLog(now, LogInfo, "task queued for retry")
	return true
}

// cancelTask moves pending or running -> cancelled. Completed and already
// cancelled tasks reject the transition; failed tasks may still be
// cancelled to suppress a retry.
func cancelTask(t *AgentTask, now time.Time) bool {
	if t.Status == TaskStatusCompleted || t.Status == TaskStatusCancelled {
		return false
	}
	t.Status = TaskStatusCancelled
	if t.CompletedAt == nil {
		done := now
		t.CompletedAt = &done
	}
	t.appendLog(now, LogWarning, "task cancelled")
	return true
}

// completeTask moves running -> completed and forces progress to 100.
func completeTask(t *AgentTask, now time.Time) bool {
	if t.Status != TaskStatusRunning {
		return false
	}
	t.Status = TaskStatusCompleted
	t.Progress = 100
	done := now
	t.CompletedAt = &done
	t.appendLog(now, LogSuccess, "task completed")
	return true
}

// failTask moves running -> failed and records the failure reason.
func failTask(t *AgentTask, now time.Time, reason string) bool {
	if t.Status != TaskStatusRunning {
		return false
	}
	t.Status = TaskStatusFailed
	done := now
	t.CompletedAt = &done
	if reason == "" {
		reason = "unspecified failure"
	}
	t.appendLog(now, LogError, fmt.Sprintf("task failed: %s", reason))
	return true
}

// setProgress updates the progress percentage of a running task.
func setProgress(t *AgentTask, now time.Time, pct int) bool {
	if t.Status != TaskStatusRunning {
		return false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.Progress = pct
	t.UpdatedAt = now
	return true
}
