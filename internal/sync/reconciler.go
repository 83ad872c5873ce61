package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/bus"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/store"
	"github.com/telvault/telvault/internal/telegram"
)

// Reconciler detects remote-side deletions. For each conversation it
// fetches the complete current remote id set, diffs it against local
// non-deleted ids, and marks the difference deleted. It never marks
// anything when the remote listing failed: a truncated set would
// produce false positives.
type Reconciler struct {
	db     *store.DB
	client telegram.Client
	bus    *bus.Bus
	logger *zap.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(db *store.DB, client telegram.Client, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, client: client, bus: b, logger: logger}
}

// Run executes a deletion check over the local ledger. Scope narrows to
// one conversation when the task carries a conversation id.
func (r *Reconciler) Run(ctx context.Context, task *store.Task) error {
	ok, err := r.db.MarkTaskRunning(task.ID)
	if err != nil {
		return err
	}
	if !ok {
		return r.db.SealCancelledTask(task.ID)
	}
	r.bus.Emit(bus.KindTaskUpdated, task.ID)

	// Deletion checks walk what we already hold, not the live remote
	// listing: a conversation the remote no longer returns is exactly
	// the one whose messages need checking.
	convs, err := r.db.ListConversations()
	if err != nil {
		return err
	}
	if err := r.db.SetTaskTotals(task.ID, int64(len(convs)), 0); err != nil {
		return err
	}

	var checked, totalDeleted int64
	for _, conv := range convs {
		status, err := r.db.TaskStatus(task.ID)
		if err != nil {
			return err
		}
		if status == store.TaskCancelled {
			_ = r.db.AppendTaskLog(task.ID, "cancelled")
			r.bus.Emit(bus.KindTaskFinished, task.ID)
			return r.db.SealCancelledTask(task.ID)
		}

		if task.ConversationID != 0 && conv.ID != task.ConversationID {
			continue
		}
		if err := r.db.SetTaskCurrent(task.ID, conv.ID, conv.Title, 0); err != nil {
			return err
		}

		deleted, err := r.reconcileConversation(ctx, conv.ID)
		if err != nil {
			// Skip, never guess: a failed listing marks nothing.
			r.logger.Warn("deletion check skipped",
				zap.Int64("conversation_id", conv.ID),
				zap.String("title", conv.Title),
				zap.Error(err))
			_ = r.db.AppendTaskLog(task.ID, fmt.Sprintf("%s: skipped: %v", conv.Title, err))
			continue
		}

		checked++
		totalDeleted += deleted
		if err := r.db.BumpTaskCounters(task.ID, checked, 0, 0, deleted); err != nil {
			return err
		}
		if deleted > 0 {
			if err := r.db.AppendTaskLog(task.ID, fmt.Sprintf("%s: %d deleted", conv.Title, deleted)); err != nil {
				return err
			}
			metrics.MessagesDeleted.Add(float64(deleted))
			r.bus.Emit(bus.KindDeletedFound, conv.ID)
		}
		r.bus.Emit(bus.KindTaskUpdated, task.ID)
	}

	if err := r.db.AppendTaskLog(task.ID, fmt.Sprintf("%d conversations checked, %d deletions", checked, totalDeleted)); err != nil {
		return err
	}
	if _, err := r.db.FinishTask(task.ID, store.TaskCompleted, ""); err != nil {
		return err
	}
	metrics.SyncRuns.WithLabelValues(store.TaskCompleted).Inc()
	r.bus.Emit(bus.KindTaskFinished, task.ID)
	return nil
}

func (r *Reconciler) reconcileConversation(ctx context.Context, conversationID int64) (int64, error) {
	remote, err := r.client.ListAllMessageIDs(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	local, err := r.db.ListActiveMessageIDs(conversationID)
	if err != nil {
		return 0, err
	}

	var missing []int64
	for id := range local {
		if _, ok := remote[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	return r.db.MarkDeletedBatch(conversationID, missing, time.Now().UnixMilli())
}
