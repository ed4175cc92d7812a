package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/autoforge/autoforge/internal/event"
)

// MemoryStore is an in-memory Store implementation, used by tests and the
// single-process default when no SQLite path is configured.
type MemoryStore struct {
	mu sync.RWMutex

	tasks       map[string]*Task
	sessions    map[string]*SessionMemory
	checkpoints map[string]*Checkpoint
	events      map[string][]event.TaskEvent // taskID -> append-only log
	audit       []ModelConfigAudit
	webhooks    map[string]bool // repo/issueNumber/deliveryID -> seen
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[string]*Task),
		sessions:    make(map[string]*SessionMemory),
		checkpoints: make(map[string]*Checkpoint),
		events:      make(map[string][]event.TaskEvent),
		webhooks:    make(map[string]bool),
	}
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task not found: %s", task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) TasksByStatus(ctx context.Context, status Status, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.ParentTaskID == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ChildTasks(ctx context.Context, parentTaskID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.ParentTaskID != nil && *t.ParentTaskID == parentTaskID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ii, jj := 0, 0
		if out[i].SubtaskIndex != nil {
			ii = *out[i].SubtaskIndex
		}
		if out[j].SubtaskIndex != nil {
			jj = *out[j].SubtaskIndex
		}
		return ii < jj
	})
	return out, nil
}

func (s *MemoryStore) ParentTask(ctx context.Context, childTaskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	child, ok := s.tasks[childTaskID]
	if !ok || child.ParentTaskID == nil {
		return nil, fmt.Errorf("no parent for task: %s", childTaskID)
	}
	parent, ok := s.tasks[*child.ParentTaskID]
	if !ok {
		return nil, fmt.Errorf("parent task not found: %s", *child.ParentTaskID)
	}
	cp := *parent
	return &cp, nil
}

func (s *MemoryStore) GetSessionMemory(ctx context.Context, taskID string) (*SessionMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.sessions[taskID]
	if !ok {
		return nil, fmt.Errorf("session memory not found: %s", taskID)
	}
	cp := *sm
	return &cp, nil
}

func (s *MemoryStore) SaveSessionMemory(ctx context.Context, sm *SessionMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sm
	s.sessions[sm.TaskID] = &cp
	return nil
}

func (s *MemoryStore) UpdateSubtaskStatus(ctx context.Context, taskID, subtaskID string, status SubtaskStatus, diff string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.sessions[taskID]
	if !ok || sm.Orchestration == nil {
		return fmt.Errorf("no orchestration state for task: %s", taskID)
	}
	for i := range sm.Orchestration.Subtasks {
		if sm.Orchestration.Subtasks[i].ID == subtaskID {
			sm.Orchestration.Subtasks[i].Status = status
			if diff != "" {
				sm.Orchestration.Subtasks[i].Diff = diff
			}
			if status == SubtaskCompleted {
				sm.Orchestration.CompletedSubtasks = appendUnique(sm.Orchestration.CompletedSubtasks, subtaskID)
			}
			return nil
		}
	}
	return fmt.Errorf("subtask not found: %s", subtaskID)
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func (s *MemoryStore) CompletedChildDiffs(ctx context.Context, parentTaskID string) ([]string, error) {
	children, err := s.ChildTasks(ctx, parentTaskID)
	if err != nil {
		return nil, err
	}
	var diffs []string
	for _, c := range children {
		if c.Status == StatusCompleted && c.CurrentDiff != "" {
			diffs = append(diffs, c.CurrentDiff)
		}
	}
	return diffs, nil
}

func (s *MemoryStore) AppendTaskEvent(ctx context.Context, ev event.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.TaskID] = append(s.events[ev.TaskID], ev)
	return nil
}

func (s *MemoryStore) RecentTaskEvents(ctx context.Context, taskID string, after *EventCursor, limit int) ([]event.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[taskID]
	var out []event.TaskEvent
	started := after == nil
	for _, ev := range all {
		if !started {
			if ev.Timestamp.After(after.CreatedAt) {
				started = true
			} else {
				continue
			}
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints[cp.ID] = &c
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("checkpoint not found: %s", id)
	}
	c := *cp
	return &c, nil
}

func (s *MemoryStore) LatestCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Checkpoint
	for _, cp := range s.checkpoints {
		if cp.TaskID != taskID {
			continue
		}
		if latest == nil || cp.CreatedAt.After(latest.CreatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no checkpoint for task: %s", taskID)
	}
	c := *latest
	return &c, nil
}

func (s *MemoryStore) AppendModelConfigAudit(ctx context.Context, entry ModelConfigAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListModelConfigAudit(ctx context.Context, position string) ([]ModelConfigAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ModelConfigAudit
	for _, a := range s.audit {
		if position == "" || a.Position == position {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkWebhookDelivery(ctx context.Context, repo string, issueNumber int, deliveryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d/%s", repo, issueNumber, deliveryID)
	if s.webhooks[key] {
		return false, nil
	}
	s.webhooks[key] = true
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
