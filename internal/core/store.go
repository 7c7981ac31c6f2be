package core

import (
	"sync"
)

// TaskStore is the authoritative in-memory mapping from identifiers to task
// and schedule records. Insertion order is preserved so listings are
// deterministic. Every read returns copies; callers never see live records,
// so a concurrent reader cannot observe a partial mutation.
type TaskStore struct {
	mu         sync.RWMutex
	tasks      map[string]*AgentTask
	taskOrder  []string
	schedules  map[string]*Schedule
	schedOrder []string
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:     make(map[string]*AgentTask),
		schedules: make(map[string]*Schedule),
	}
}

// PutTask inserts or replaces a task record. The store keeps its own copy.
func (s *TaskStore) PutTask(t *AgentTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; !exists {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = t.Clone()
}

// GetTask returns a copy of the task or ErrTaskNotFound.
func (s *TaskStore) GetTask(id string) (*AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// DeleteTask removes a task record. Returns ErrTaskNotFound for unknown IDs.
func (s *TaskStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	for i, tid := range s.taskOrder {
		if tid == id {
			s.taskOrder = append(s.taskOrder[:i], s.taskOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ListTasks returns copies of all tasks in insertion order.
func (s *TaskStore) ListTasks() []*AgentTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(*AgentTask) bool { return true })
}

// ListTasksByStatus returns copies of tasks with the given status.
func (s *TaskStore) ListTasksByStatus(status TaskStatus) []*AgentTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(t *AgentTask) bool { return t.Status == status })
}

// ListTasksByAgentType returns copies of tasks with the given agent type.
func (s *TaskStore) ListTasksByAgentType(agentType AgentType) []*AgentTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(t *AgentTask) bool { return t.AgentType == agentType })
}

// ListTasksByPriority returns copies of tasks with the given priority.
func (s *TaskStore) ListTasksByPriority(priority Priority) []*AgentTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(t *AgentTask) bool { return t.Priority == priority })
}

// TaskCount returns the number of stored tasks.
func (s *TaskStore) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *TaskStore) listLocked(keep func(*AgentTask) bool) []*AgentTask {
	out := make([]*AgentTask, 0, len(s.taskOrder))
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t != nil && keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// PutSchedule inserts or replaces a schedule record.
func (s *TaskStore) PutSchedule(sc *Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sc.ID]; !exists {
		s.schedOrder = append(s.schedOrder, sc.ID)
	}
	c := *sc
	s.schedules[sc.ID] = &c
}

// GetSchedule returns a copy of the schedule or ErrScheduleNotFound.
func (s *TaskStore) GetSchedule(id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	c := *sc
	return &c, nil
}

// DeleteSchedule removes a schedule record.
func (s *TaskStore) DeleteSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(s.schedules, id)
	for i, sid := range s.schedOrder {
		if sid == id {
			s.schedOrder = append(s.schedOrder[:i], s.schedOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ListSchedules returns copies of all schedules in insertion order.
func (s *TaskStore) ListSchedules() []*Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedOrder))
	for _, id := range s.schedOrder {
		if sc := s.schedules[id]; sc != nil {
			c := *sc
			out = append(out, &c)
		}
	}
	return out
}
