package core

import (
	"errors"
	"testing"
	"time"
)

func TestStorePutGetDelete(t *testing.T) {
	s := NewTaskStore()

	task := testTask(TaskStatusPending)
	s.PutTask(task)

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.ID != task.ID || got.Name != task.Name {
		t.Fatalf("got %+v, want %+v", got, task)
	}

	if _, err := s.GetTask("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("unknown id error = %v, want ErrTaskNotFound", err)
	}

	if err := s.DeleteTask(task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := s.DeleteTask(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("double delete error = %v, want ErrTaskNotFound", err)
	}
	if s.TaskCount() != 0 {
		t.Fatalf("TaskCount = %d, want 0", s.TaskCount())
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s := NewTaskStore()
	task := testTask(TaskStatusPending)
	task.Logs = []LogEntry{{Timestamp: time.Now(), Level: LogInfo, Message: "original"}}
	s.PutTask(task)

	// Mutating the record we inserted must not leak into the store.
	task.Name = "mutated after insert"
	task.Logs[0].Message = "mutated log"

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name == "mutated after insert" {
		t.Fatal("store shares the caller's record instead of copying")
	}
	if got.Logs[0].Message != "original" {
		t.Fatal("store shares the caller's log slice instead of copying")
	}

	// Mutating a returned snapshot must not leak either.
	got.Status = TaskStatusCancelled
	again, _ := s.GetTask(task.ID)
	if again.Status != TaskStatusPending {
		t.Fatal("snapshot mutation leaked back into the store")
	}
}

func TestStoreListOrderAndFilters(t *testing.T) {
	s := NewTaskStore()

	a := testTask(TaskStatusPending)
	a.AgentType = AgentIntake
	a.Priority = PriorityLow
	b := testTask(TaskStatusRunning)
	b.AgentType = AgentSupport
	b.Priority = PriorityUrgent
	c := testTask(TaskStatusPending)
	c.AgentType = AgentSupport
	c.Priority = PriorityLow

	for _, task := range []*AgentTask{a, b, c} {
		s.PutTask(task)
	}

	all := s.ListTasks()
	if len(all) != 3 {
		t.Fatalf("ListTasks len = %d, want 3", len(all))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if all[i].ID != want {
			t.Fatalf("insertion order broken at %d: got %s, want %s", i, all[i].ID, want)
		}
	}

	// Re-putting an existing task keeps its position.
	a.Description = "updated"
	s.PutTask(a)
	if got := s.ListTasks(); got[0].ID != a.ID {
		t.Fatal("update moved the task out of insertion order")
	}

	if got := s.ListTasksByStatus(TaskStatusPending); len(got) != 2 {
		t.Fatalf("pending filter len = %d, want 2", len(got))
	}
	if got := s.ListTasksByAgentType(AgentSupport); len(got) != 2 {
		t.Fatalf("agent filter len = %d, want 2", len(got))
	}
	if got := s.ListTasksByPriority(PriorityUrgent); len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("priority filter = %v", got)
	}
}

func TestStoreSchedules(t *testing.T) {
	s := NewTaskStore()
	now := time.Now().UTC()

	sc := &Schedule{
		ID:             NewID(),
		TaskID:         "task-1",
		CronExpression: "*/5 * * * *",
		IsActive:       true,
		NextRun:        now.Add(5 * time.Minute),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.PutSchedule(sc)

	got, err := s.GetSchedule(sc.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}

	// Snapshot isolation applies to schedules too.
	got.IsActive = false
	again, _ := s.GetSchedule(sc.ID)
	if !again.IsActive {
		t.Fatal("schedule snapshot mutation leaked into the store")
	}

	if _, err := s.GetSchedule("nope"); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("unknown schedule error = %v, want ErrScheduleNotFound", err)
	}

	if err := s.DeleteSchedule(sc.ID); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if got := s.ListSchedules(); len(got) != 0 {
		t.Fatalf("ListSchedules len = %d, want 0", len(got))
	}
}
