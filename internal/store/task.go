package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task kinds.
const (
	TaskFullSync           = "full_sync"
	TaskConversationSync   = "conversation_sync"
	TaskDeletionCheck      = "deletion_check"
	TaskAttachmentBackfill = "attachment_backfill"
)

// Task statuses. completed, failed and cancelled are terminal.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

var (
	// ErrTaskActive means another non-terminal task exists for this session.
	ErrTaskActive = errors.New("another sync task is already active")
	// ErrTaskFinished means the task is already in a terminal state.
	ErrTaskFinished = errors.New("task already finished")
	// ErrTaskNotFound means no task exists with the given id.
	ErrTaskNotFound = errors.New("task not found")
)

// Task is the durable record of one engine run. The worker writes it,
// the foreground polls it; it is the only channel between the two.
type Task struct {
	ID             string
	Kind           string
	ConversationID int64 // scope for conversation_sync / deletion_check, 0 = all

	Status string

	TotalConversations  int64
	SyncedConversations int64
	TotalMessages       int64
	SyncedMessages      int64
	NewMessages         int64
	DeletedMessages     int64

	CurrentConversationID       int64
	CurrentConversationTitle    string
	CurrentConversationProgress int64

	CreatedAt   int64
	StartedAt   int64
	CompletedAt int64

	ErrorMessage string
	Log          string
}

// IsFinished reports whether the task reached a terminal state.
func (t *Task) IsFinished() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed || t.Status == TaskCancelled
}

// IsRunning reports whether a worker currently owns the task.
func (t *Task) IsRunning() bool {
	return t.Status == TaskRunning
}

// ProgressPercent is the conversation-level progress of the run.
func (t *Task) ProgressPercent() int {
	if t.TotalConversations == 0 {
		return 0
	}
	return int(t.SyncedConversations * 100 / t.TotalConversations)
}

// CreateTask inserts a new pending task. The insert is conditional on no
// other pending or running task existing, so concurrent start requests
// race at the storage layer and exactly one wins.
func (db *DB) CreateTask(kind string, conversationID int64) (*Task, error) {
	t := &Task{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: conversationID,
		Status:         TaskPending,
		CreatedAt:      time.Now().UnixMilli(),
	}
	res, err := db.Exec(`
		INSERT INTO sync_tasks (id, kind, conversation_id, status, created_at)
		SELECT ?, ?, NULLIF(?, 0), ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_tasks WHERE status IN ('pending', 'running')
		)`,
		t.ID, t.Kind, t.ConversationID, t.Status, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrTaskActive
	}
	return t, nil
}

// GetTask loads a task by id.
func (db *DB) GetTask(id string) (*Task, error) {
	row := db.QueryRow(`
		SELECT id, kind, conversation_id, status,
		       total_conversations, synced_conversations, total_messages, synced_messages,
		       new_messages, deleted_messages,
		       current_conversation_id, current_conversation_title, current_conversation_progress,
		       created_at, started_at, completed_at, error_message, log
		FROM sync_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns recent tasks, newest first.
func (db *DB) ListTasks(limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, kind, conversation_id, status,
		       total_conversations, synced_conversations, total_messages, synced_messages,
		       new_messages, deleted_messages,
		       current_conversation_id, current_conversation_title, current_conversation_progress,
		       created_at, started_at, completed_at, error_message, log
		FROM sync_tasks
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// TaskStatus re-reads just the status field. The worker polls this at
// every conversation boundary to observe cancellation.
func (db *DB) TaskStatus(id string) (string, error) {
	var s string
	err := db.QueryRow(`SELECT status FROM sync_tasks WHERE id = ?`, id).Scan(&s)
	if err == sql.ErrNoRows {
		return "", ErrTaskNotFound
	}
	return s, err
}

// MarkTaskRunning transitions pending -> running. Returns false when the
// task is no longer pending (e.g. cancelled before the worker started).
func (db *DB) MarkTaskRunning(id string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE sync_tasks SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'`, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CancelTask requests cooperative cancellation of a non-terminal task.
// The worker observes the flipped status at its next loop boundary.
// Returns ErrTaskFinished if the task is already terminal.
func (db *DB) CancelTask(id string) error {
	res, err := db.Exec(`
		UPDATE sync_tasks SET status = 'cancelled'
		WHERE id = ? AND status IN ('pending', 'running')`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetTask(id); err != nil {
			return err
		}
		return ErrTaskFinished
	}
	return nil
}

// FinishTask moves a running task to completed or failed. Terminal tasks
// are immutable, so the guard on status makes the call a no-op (false)
// when cancellation won the race.
func (db *DB) FinishTask(id, status, errorMessage string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE sync_tasks SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = 'running'`,
		status, errorMessage, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SealCancelledTask stamps completed_at on a task whose cancellation the
// worker has acknowledged. Partial progress stays committed.
func (db *DB) SealCancelledTask(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sync_tasks SET completed_at = ?
		WHERE id = ? AND status = 'cancelled' AND completed_at IS NULL`, now, id)
	return err
}

// SetTaskTotals records the size of the run once the remote listing is known.
func (db *DB) SetTaskTotals(id string, totalConversations, totalMessages int64) error {
	_, err := db.Exec(`
		UPDATE sync_tasks SET total_conversations = ?, total_messages = ?
		WHERE id = ?`, totalConversations, totalMessages, id)
	return err
}

// SetTaskCurrent records which conversation the worker is on.
func (db *DB) SetTaskCurrent(id string, conversationID int64, title string, progress int64) error {
	_, err := db.Exec(`
		UPDATE sync_tasks SET current_conversation_id = NULLIF(?, 0),
			current_conversation_title = ?, current_conversation_progress = ?
		WHERE id = ?`, conversationID, title, progress, id)
	return err
}

// SetTaskConversationProgress updates how far into the current
// conversation the worker has paged, in messages seen.
func (db *DB) SetTaskConversationProgress(id string, progress int64) error {
	_, err := db.Exec(`
		UPDATE sync_tasks SET current_conversation_progress = ?
		WHERE id = ?`, progress, id)
	return err
}

// BumpTaskCounters accumulates per-conversation results into the task.
func (db *DB) BumpTaskCounters(id string, syncedConversations, syncedMessages, newMessages, deletedMessages int64) error {
	_, err := db.Exec(`
		UPDATE sync_tasks SET
			synced_conversations = ?,
			synced_messages = synced_messages + ?,
			new_messages = new_messages + ?,
			deleted_messages = deleted_messages + ?
		WHERE id = ?`,
		syncedConversations, syncedMessages, newMessages, deletedMessages, id)
	return err
}

// AppendTaskLog appends a timestamped line to the task's append-only log.
func (db *DB) AppendTaskLog(id, line string) error {
	stamp := time.Now().Format("15:04:05")
	_, err := db.Exec(`
		UPDATE sync_tasks SET log = log || ? WHERE id = ?`,
		fmt.Sprintf("[%s] %s\n", stamp, line), id)
	return err
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var convID, startedAt, completedAt, currentConvID sql.NullInt64
	err := row.Scan(&t.ID, &t.Kind, &convID, &t.Status,
		&t.TotalConversations, &t.SyncedConversations, &t.TotalMessages, &t.SyncedMessages,
		&t.NewMessages, &t.DeletedMessages,
		&currentConvID, &t.CurrentConversationTitle, &t.CurrentConversationProgress,
		&t.CreatedAt, &startedAt, &completedAt, &t.ErrorMessage, &t.Log)
	if err != nil {
		return nil, err
	}
	t.ConversationID = convID.Int64
	t.StartedAt = startedAt.Int64
	t.CompletedAt = completedAt.Int64
	t.CurrentConversationID = currentConvID.Int64
	return &t, nil
}
