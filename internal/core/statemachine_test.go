package core

import (
	"testing"
	"time"
)

func testTask(status TaskStatus) *AgentTask {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t := &AgentTask{
		ID:          NewID(),
		Name:        "build report",
		Description: "aggregate weekly numbers",
		Status:      status,
		Priority:    PriorityMedium,
		AgentType:   AgentPM,
		Logs:        []LogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return t
}

func TestStartTask(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	task := testTask(TaskStatusPending)
	if !startTask(task, now) {
		t.Fatal("expected start of pending task to succeed")
	}
	if task.Status != TaskStatusRunning {
		t.Fatalf("status = %s, want running", task.Status)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(now) {
		t.Fatalf("StartedAt = %v, want %v", task.StartedAt, now)
	}

	// Starting keeps the original StartedAt on a paused-then-restarted task.
	earlier := now.Add(-time.Hour)
	task = testTask(TaskStatusPending)
	task.StartedAt = &earlier
	if !startTask(task, now) {
		t.Fatal("expected restart to succeed")
	}
	if !task.StartedAt.Equal(earlier) {
		t.Fatalf("StartedAt = %v, want original %v", task.StartedAt, earlier)
	}

	for _, status := range []TaskStatus{TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
		task := testTask(status)
		if startTask(task, now) {
			t.Errorf("start from %s should be rejected", status)
		}
		if task.Status != status {
			t.Errorf("rejected start mutated status: %s -> %s", status, task.Status)
		}
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	task := testTask(TaskStatusPending)
	if !startTask(task, now) {
		t.Fatal("start failed")
	}
	started := *task.StartedAt

	if !pauseTask(task, now.Add(time.Minute)) {
		t.Fatal("pause of running task failed")
	}
	if task.Status != TaskStatusPending {
		t.Fatalf("status after pause = %s, want pending", task.Status)
	}
	if task.StartedAt == nil || !task.StartedAt.Equal(started) {
		t.Fatal("pause must keep StartedAt so resume can distinguish paused from never-started")
	}

	if !resumeTask(task, now.Add(2*time.Minute)) {
		t.Fatal("resume of paused task failed")
	}
	if task.Status != TaskStatusRunning {
		t.Fatalf("status after resume = %s, want running", task.Status)
	}
}

func TestResumeNeverStartedRejected(t *testing.T) {
	now := time.Now().UTC()
	task := testTask(TaskStatusPending)
	if resumeTask(task, now) {
		t.Fatal("resume of a never-started pending task must be rejected")
	}
	if pauseTask(task, now) {
		t.Fatal("pause of a pending task must be rejected")
	}
}

func TestRetryTask(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	task := testTask(TaskStatusFailed)
	done := now.Add(-time.Hour)
	task.CompletedAt = &done
	task.Progress = 60

	if !retryTask(task, now) {
		t.Fatal("retry of failed task failed")
	}
	if task.Status != TaskStatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if task.Progress != 0 {
		t.Fatalf("progress = %d, want 0", task.Progress)
	}
	if task.CompletedAt != nil {
		t.Fatal("CompletedAt must be cleared on retry")
	}

	for _, status := range []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusCancelled} {
		task := testTask(status)
		if retryTask(task, now) {
			t.Errorf("retry from %s should be rejected", status)
		}
	}
}

func TestCancelTask(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, status := range []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusFailed} {
		task := testTask(status)
		if !cancelTask(task, now) {
			t.Errorf("cancel from %s should succeed", status)
			continue
		}
		if task.Status != TaskStatusCancelled {
			t.Errorf("status = %s, want cancelled", task.Status)
		}
		if task.CompletedAt == nil {
			t.Error("cancel must stamp CompletedAt")
		}
	}

	// A failed task keeps its original terminal timestamp when cancelled.
	task := testTask(TaskStatusFailed)
	failedAt := now.Add(-time.Hour)
	task.CompletedAt = &failedAt
	if !cancelTask(task, now) {
		t.Fatal("cancel of failed task failed")
	}
	if !task.CompletedAt.Equal(failedAt) {
		t.Fatalf("CompletedAt = %v, want original %v", task.CompletedAt, failedAt)
	}

	for _, status := range []TaskStatus{TaskStatusCompleted, TaskStatusCancelled} {
		task := testTask(status)
		if cancelTask(task, now) {
			t.Errorf("cancel from %s should be rejected", status)
		}
	}
}

func TestCompleteAndFail(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	task := testTask(TaskStatusRunning)
	task.Progress = 40
	if !completeTask(task, now) {
		t.Fatal("complete of running task failed")
	}
	if task.Status != TaskStatusCompleted || task.Progress != 100 {
		t.Fatalf("got status=%s progress=%d, want completed/100", task.Status, task.Progress)
	}
	if task.CompletedAt == nil || !task.CompletedAt.Equal(now) {
		t.Fatalf("CompletedAt = %v, want %v", task.CompletedAt, now)
	}

	task = testTask(TaskStatusRunning)
	if !failTask(task, now, "runner exploded") {
		t.Fatal("fail of running task failed")
	}
	if task.Status != TaskStatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	last := task.Logs[len(task.Logs)-1]
	if last.Level != LogError {
		t.Fatalf("failure log level = %s, want error", last.Level)
	}
	if got := last.Message; got != "task failed: runner exploded" {
		t.Fatalf("failure log = %q", got)
	}

	for _, status := range []TaskStatus{TaskStatusPending, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled} {
		task := testTask(status)
		if completeTask(task, now) {
			t.Errorf("complete from %s should be rejected", status)
		}
		task = testTask(status)
		if failTask(task, now, "x") {
			t.Errorf("fail from %s should be rejected", status)
		}
	}
}

func TestSetProgressClamps(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		in, want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{250, 100},
	}
	for _, tc := range cases {
		task := testTask(TaskStatusRunning)
		if !setProgress(task, now, tc.in) {
			t.Fatalf("setProgress(%d) rejected", tc.in)
		}
		if task.Progress != tc.want {
			t.Errorf("setProgress(%d) = %d, want %d", tc.in, task.Progress, tc.want)
		}
	}

	task := testTask(TaskStatusPending)
	if setProgress(task, now, 50) {
		t.Fatal("setProgress on non-running task must be rejected")
	}
}
