package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/bus"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/status"
	"github.com/telvault/telvault/internal/store"
	"github.com/telvault/telvault/internal/telegram"
)

// Manager owns sync task lifecycle: it creates tasks, launches one
// fire-and-forget worker per task, and mediates cancellation. The
// storage layer enforces the single-active-task rule, so concurrent
// start requests race there and exactly one wins.
type Manager struct {
	db       *store.DB
	client   telegram.Client
	fetcher  *media.Fetcher
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger
	pageSize int
	download bool

	mu        stdsync.Mutex
	wg        stdsync.WaitGroup
	connected *telegram.Account
	closed    bool
}

// NewManager creates a manager. The client connection is established
// lazily at the first run, not at construction.
func NewManager(db *store.DB, client telegram.Client, fetcher *media.Fetcher, b *bus.Bus, machine *status.Machine, logger *zap.Logger, pageSize int, download bool) *Manager {
	return &Manager{
		db:       db,
		client:   client,
		fetcher:  fetcher,
		bus:      b,
		machine:  machine,
		logger:   logger,
		pageSize: pageSize,
		download: download,
	}
}

// Start creates a task and launches its worker. Returns ErrTaskActive
// when another task is already pending or running.
func (m *Manager) Start(ctx context.Context, kind string, conversationID int64) (*store.Task, error) {
	switch kind {
	case store.TaskFullSync, store.TaskConversationSync, store.TaskDeletionCheck, store.TaskAttachmentBackfill:
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("sync manager is shut down")
	}
	task, err := m.db.CreateTask(kind, conversationID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.ActiveTask.Set(1)
	m.bus.Emit(bus.KindTaskCreated, task.ID)
	m.logger.Info("sync task created",
		zap.String("task_id", task.ID),
		zap.String("kind", kind),
		zap.Int64("conversation_id", conversationID))

	go m.run(task)
	return task, nil
}

// Cancel requests cooperative cancellation. The worker observes the
// flipped status at its next conversation boundary.
func (m *Manager) Cancel(taskID string) error {
	return m.db.CancelTask(taskID)
}

// Close waits for the in-flight worker to drain. It does not cancel
// running tasks; callers cancel explicitly first if they want a fast
// shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(task *store.Task) {
	defer m.wg.Done()
	defer metrics.ActiveTask.Set(0)
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("sync worker panic",
				zap.String("task_id", task.ID),
				zap.Any("panic", rec))
			_, _ = m.db.FinishTask(task.ID, store.TaskFailed, fmt.Sprintf("internal error: %v", rec))
			m.bus.Emit(bus.KindTaskFinished, task.ID)
		}
	}()

	// The worker owns its own lifetime; daemon shutdown waits via Close
	// rather than cancelling this context.
	ctx := context.Background()

	account, err := m.connect(ctx)
	if err != nil {
		m.logger.Error("remote connect failed", zap.String("task_id", task.ID), zap.Error(err))
		if ok, ferr := m.db.MarkTaskRunning(task.ID); ferr != nil || !ok {
			_ = m.db.SealCancelledTask(task.ID)
			return
		}
		_, _ = m.db.FinishTask(task.ID, store.TaskFailed, fmt.Sprintf("connect: %v", err))
		metrics.SyncRuns.WithLabelValues(store.TaskFailed).Inc()
		m.bus.Emit(bus.KindTaskFinished, task.ID)
		return
	}

	if m.machine.Current() == status.Ready {
		_ = m.machine.Transition(status.Syncing)
		defer func() { _ = m.machine.Transition(status.Ready) }()
	}

	switch task.Kind {
	case store.TaskDeletionCheck:
		r := NewReconciler(m.db, m.client, m.bus, m.logger)
		err = r.Run(ctx, task)
	case store.TaskAttachmentBackfill:
		err = m.runBackfill(ctx, task, account.UserID)
	default:
		o := NewOrchestrator(m.db, m.client, m.fetcher, m.bus, m.logger, m.pageSize, m.download)
		err = o.Run(ctx, task, account.UserID)
	}
	if err != nil {
		// Storage failure while recording the outcome; nothing more we
		// can persist, so log and leave the row as is.
		m.logger.Error("sync worker failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (m *Manager) runBackfill(ctx context.Context, task *store.Task, ownerID int64) error {
	ok, err := m.db.MarkTaskRunning(task.ID)
	if err != nil {
		return err
	}
	if !ok {
		return m.db.SealCancelledTask(task.ID)
	}
	m.bus.Emit(bus.KindTaskUpdated, task.ID)

	if m.fetcher == nil {
		_, err := m.db.FinishTask(task.ID, store.TaskFailed, "media download is disabled")
		return err
	}

	fetched, err := m.fetcher.Backfill(ctx, m.db, ownerID)
	if err != nil {
		_ = m.db.AppendTaskLog(task.ID, fmt.Sprintf("backfill aborted: %v", err))
		if _, ferr := m.db.FinishTask(task.ID, store.TaskFailed, err.Error()); ferr != nil {
			return ferr
		}
		m.bus.Emit(bus.KindTaskFinished, task.ID)
		return nil
	}

	metrics.AttachmentsFetched.Add(float64(fetched))
	if err := m.db.AppendTaskLog(task.ID, fmt.Sprintf("%d attachments fetched", fetched)); err != nil {
		return err
	}
	if _, err := m.db.FinishTask(task.ID, store.TaskCompleted, ""); err != nil {
		return err
	}
	m.bus.Emit(bus.KindTaskFinished, task.ID)
	return nil
}

// connect establishes the remote session once and caches the account.
func (m *Manager) connect(ctx context.Context) (*telegram.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected != nil {
		return m.connected, nil
	}
	account, err := m.client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	m.connected = account
	return account, nil
}
