package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/autoforge/autoforge/internal/event"
)

// SQLiteStore persists the orchestrator's data model to SQLite (§6
// persisted layout): tasks, task_events, session_memory,
// session_checkpoints and model_config_audit tables, each carrying a JSON
// blob column alongside the narrow indexed columns the specialized
// queries filter on.
type SQLiteStore struct {
	db     *sql.DB
	policy BackoffPolicy
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, policy: DefaultBackoffPolicy()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// withRetry runs fn under s.policy (§4.1), classifying exhausted retries
// as a storage-fatal OrchError the Orchestrator knows how to recover from.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	return WithRetry(ctx, s.policy, fn)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		parent_task_id TEXT,
		subtask_index INTEGER,
		data JSON NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_repo_issue ON tasks(repo, issue_number)
		WHERE parent_task_id IS NULL;

	CREATE TABLE IF NOT EXISTS task_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, created_at);

	CREATE TABLE IF NOT EXISTS session_memory (
		task_id TEXT PRIMARY KEY,
		data JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_checkpoints (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON session_checkpoints(task_id, created_at);

	CREATE TABLE IF NOT EXISTS model_config_audit (
		id TEXT PRIMARY KEY,
		position TEXT NOT NULL,
		old_model TEXT,
		new_model TEXT NOT NULL,
		changed_at DATETIME NOT NULL,
		changed_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_position ON model_config_audit(position);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		repo TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		delivery_id TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		PRIMARY KEY (repo, issue_number, delivery_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, repo, issue_number, status, parent_task_id, subtask_index, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.Repo, task.IssueNumber, task.Status, task.ParentTaskID, task.SubtaskIndex, data, task.CreatedAt, task.UpdatedAt)
		return err
	})
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	found := false
	err := s.withRetry(ctx, func() error {
		var data []byte
		err := s.db.QueryRowContext(ctx, "SELECT data FROM tasks WHERE id = ?", id).Scan(&data)
		if err == sql.ErrNoRows {
			return nil // a real, successful query with no match: not retryable
		}
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return &task, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET repo = ?, issue_number = ?, status = ?, parent_task_id = ?,
				subtask_index = ?, data = ?, updated_at = ?
			WHERE id = ?
		`, task.Repo, task.IssueNumber, task.Status, task.ParentTaskID, task.SubtaskIndex, data, task.UpdatedAt, task.ID)
		return err
	})
}

func (s *SQLiteStore) TasksByStatus(ctx context.Context, status Status, limit int) ([]*Task, error) {
	var out []*Task
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT data FROM tasks WHERE status = ? ORDER BY updated_at DESC LIMIT ?
		`, status, nullableLimit(limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanTasks(rows)
		return err
	})
	return out, err
}

func (s *SQLiteStore) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	var out []*Task
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT data FROM tasks WHERE parent_task_id IS NULL ORDER BY updated_at DESC LIMIT ?
		`, nullableLimit(limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanTasks(rows)
		return err
	})
	return out, err
}

func (s *SQLiteStore) ChildTasks(ctx context.Context, parentTaskID string) ([]*Task, error) {
	var out []*Task
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT data FROM tasks WHERE parent_task_id = ? ORDER BY subtask_index ASC
		`, parentTaskID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanTasks(rows)
		return err
	})
	return out, err
}

func (s *SQLiteStore) ParentTask(ctx context.Context, childTaskID string) (*Task, error) {
	child, err := s.GetTask(ctx, childTaskID)
	if err != nil {
		return nil, err
	}
	if child.ParentTaskID == nil {
		return nil, fmt.Errorf("no parent for task: %s", childTaskID)
	}
	return s.GetTask(ctx, *child.ParentTaskID)
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func nullableLimit(limit int) int64 {
	if limit <= 0 {
		return 1 << 32
	}
	return int64(limit)
}

func (s *SQLiteStore) GetSessionMemory(ctx context.Context, taskID string) (*SessionMemory, error) {
	var sm SessionMemory
	found := false
	err := s.withRetry(ctx, func() error {
		var data []byte
		err := s.db.QueryRowContext(ctx, "SELECT data FROM session_memory WHERE task_id = ?", taskID).Scan(&data)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(data, &sm)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("session memory not found: %s", taskID)
	}
	return &sm, nil
}

func (s *SQLiteStore) SaveSessionMemory(ctx context.Context, sm *SessionMemory) error {
	data, err := json.Marshal(sm)
	if err != nil {
		return fmt.Errorf("failed to marshal session memory: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO session_memory (task_id, data, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(task_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		`, sm.TaskID, data)
		return err
	})
}

// UpdateSubtaskStatus loads, mutates and saves the owning SessionMemory row
// inside a transaction, giving the read-modify-write the atomicity §5
// requires even though SQLite has no native JSON-path update for a nested
// array element.
func (s *SQLiteStore) UpdateSubtaskStatus(ctx context.Context, taskID, subtaskID string, status SubtaskStatus, diff string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var data []byte
		err = tx.QueryRowContext(ctx, "SELECT data FROM session_memory WHERE task_id = ?", taskID).Scan(&data)
		if err == sql.ErrNoRows {
			return fmt.Errorf("session memory not found: %s", taskID)
		}
		if err != nil {
			return err
		}

		var sm SessionMemory
		if err := json.Unmarshal(data, &sm); err != nil {
			return fmt.Errorf("failed to unmarshal session memory: %w", err)
		}
		if sm.Orchestration == nil {
			return fmt.Errorf("no orchestration state for task: %s", taskID)
		}

		found := false
		for i := range sm.Orchestration.Subtasks {
			if sm.Orchestration.Subtasks[i].ID == subtaskID {
				sm.Orchestration.Subtasks[i].Status = status
				if diff != "" {
					sm.Orchestration.Subtasks[i].Diff = diff
				}
				if status == SubtaskCompleted {
					sm.Orchestration.CompletedSubtasks = appendUnique(sm.Orchestration.CompletedSubtasks, subtaskID)
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("subtask not found: %s", subtaskID)
		}

		newData, err := json.Marshal(&sm)
		if err != nil {
			return fmt.Errorf("failed to marshal session memory: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE session_memory SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?
		`, newData, taskID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) CompletedChildDiffs(ctx context.Context, parentTaskID string) ([]string, error) {
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

func (s *SQLiteStore) AppendTaskEvent(ctx context.Context, ev event.TaskEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_events (task_id, created_at, data) VALUES (?, ?, ?)
		`, ev.TaskID, ev.Timestamp, data)
		return err
	})
}

func (s *SQLiteStore) RecentTaskEvents(ctx context.Context, taskID string, after *EventCursor, limit int) ([]event.TaskEvent, error) {
	var out []event.TaskEvent
	err := s.withRetry(ctx, func() error {
		var rows *sql.Rows
		var err error
		if after != nil {
			rows, err = s.db.QueryContext(ctx, `
				SELECT data FROM task_events
				WHERE task_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
				ORDER BY created_at ASC, id ASC
				LIMIT ?
			`, taskID, after.CreatedAt, after.CreatedAt, after.ID, nullableLimit(limit))
		} else {
			rows, err = s.db.QueryContext(ctx, `
				SELECT data FROM task_events WHERE task_id = ? ORDER BY created_at ASC, id ASC LIMIT ?
			`, taskID, nullableLimit(limit))
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return err
			}
			var ev event.TaskEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO session_checkpoints (id, task_id, created_at, data)
			VALUES (?, ?, ?, ?)
		`, cp.ID, cp.TaskID, cp.CreatedAt, data)
		return err
	})
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	var cp Checkpoint
	found := false
	err := s.withRetry(ctx, func() error {
		var data []byte
		err := s.db.QueryRowContext(ctx, "SELECT data FROM session_checkpoints WHERE id = ?", id).Scan(&data)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("checkpoint not found: %s", id)
	}
	return &cp, nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error) {
	var cp Checkpoint
	found := false
	err := s.withRetry(ctx, func() error {
		var data []byte
		err := s.db.QueryRowContext(ctx, `
			SELECT data FROM session_checkpoints WHERE task_id = ? ORDER BY created_at DESC LIMIT 1
		`, taskID).Scan(&data)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no checkpoint for task: %s", taskID)
	}
	return &cp, nil
}

func (s *SQLiteStore) AppendModelConfigAudit(ctx context.Context, entry ModelConfigAudit) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO model_config_audit (id, position, old_model, new_model, changed_at, changed_by)
			VALUES (?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.Position, entry.OldModel, entry.NewModel, entry.ChangedAt, entry.ChangedBy)
		return err
	})
}

func (s *SQLiteStore) ListModelConfigAudit(ctx context.Context, position string) ([]ModelConfigAudit, error) {
	var out []ModelConfigAudit
	err := s.withRetry(ctx, func() error {
		var rows *sql.Rows
		var err error
		if position != "" {
			rows, err = s.db.QueryContext(ctx, `
				SELECT id, position, old_model, new_model, changed_at, changed_by
				FROM model_config_audit WHERE position = ? ORDER BY changed_at ASC
			`, position)
		} else {
			rows, err = s.db.QueryContext(ctx, `
				SELECT id, position, old_model, new_model, changed_at, changed_by
				FROM model_config_audit ORDER BY changed_at ASC
			`)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var a ModelConfigAudit
			var changedBy sql.NullString
			if err := rows.Scan(&a.ID, &a.Position, &a.OldModel, &a.NewModel, &a.ChangedAt, &changedBy); err != nil {
				return err
			}
			a.ChangedBy = changedBy.String
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) MarkWebhookDelivery(ctx context.Context, repo string, issueNumber int, deliveryID string) (bool, error) {
	first := true
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO webhook_deliveries (repo, issue_number, delivery_id, received_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		`, repo, issueNumber, deliveryID)
		if err != nil {
			// Unique constraint violation means we've already recorded this
			// delivery; that is the expected "not first time" path, not a
			// storage error.
			if isUniqueConstraintErr(err) {
				first = false
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
