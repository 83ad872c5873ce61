// Package sync drives incremental history synchronization and deletion
// reconciliation against the remote account.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/bus"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/store"
	"github.com/telvault/telvault/internal/telegram"
)

// defaultPageSize is the remote listing batch size when the config does
// not override it.
const defaultPageSize = 100

// Orchestrator runs one sync pass end to end: list conversations,
// paginate each from its high-water mark, download media, upsert, and
// stream progress into the task row. Conversations are strictly
// sequential within a run; the remote connection carries one logical
// stream of calls.
type Orchestrator struct {
	db       *store.DB
	client   telegram.Client
	fetcher  *media.Fetcher
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int
	download bool
}

// NewOrchestrator creates an orchestrator. fetcher may be nil when
// media download is disabled.
func NewOrchestrator(db *store.DB, client telegram.Client, fetcher *media.Fetcher, b *bus.Bus, logger *zap.Logger, pageSize int, download bool) *Orchestrator {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Orchestrator{
		db:       db,
		client:   client,
		fetcher:  fetcher,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
		download: download && fetcher != nil,
	}
}

// Run executes the task to completion. The task row is the only channel
// for user-visible outcome: Run itself returns an error only for
// storage failures that prevent even recording the result.
func (o *Orchestrator) Run(ctx context.Context, task *store.Task, ownerID int64) error {
	ok, err := o.db.MarkTaskRunning(task.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Cancelled before the worker picked it up.
		return o.db.SealCancelledTask(task.ID)
	}
	o.bus.Emit(bus.KindTaskUpdated, task.ID)

	convs, err := o.client.ListConversations(ctx)
	if err != nil {
		// Fatal to the run: without the listing there is nothing to
		// iterate. The user re-triggers after fixing connectivity.
		o.logger.Error("conversation listing failed", zap.Error(err))
		return o.fail(task.ID, fmt.Sprintf("list conversations: %v", err))
	}

	var totalMessages int64
	for _, c := range convs {
		totalMessages += c.MessageCount
	}
	if err := o.db.SetTaskTotals(task.ID, int64(len(convs)), totalMessages); err != nil {
		return err
	}
	if err := o.db.AppendTaskLog(task.ID, fmt.Sprintf("listed %d conversations", len(convs))); err != nil {
		return err
	}

	var synced int64
	for _, conv := range convs {
		// Cancellation is polled at the conversation boundary, never
		// mid-page. Progress committed so far stays committed.
		status, err := o.db.TaskStatus(task.ID)
		if err != nil {
			return err
		}
		if status == store.TaskCancelled {
			_ = o.db.AppendTaskLog(task.ID, "cancelled")
			o.bus.Emit(bus.KindTaskFinished, task.ID)
			return o.db.SealCancelledTask(task.ID)
		}

		if task.Kind == store.TaskConversationSync && task.ConversationID != 0 && conv.ID != task.ConversationID {
			continue
		}

		if err := o.db.UpsertConversation(&store.Conversation{
			ID:          conv.ID,
			Kind:        telegram.NormalizeKind(conv.Kind),
			Title:       conv.Title,
			Username:    conv.Username,
			MemberCount: conv.MemberCount,
			Archived:    conv.Archived,
			Pinned:      conv.Pinned,
		}); err != nil {
			return err
		}
		if err := o.db.SetTaskCurrent(task.ID, conv.ID, conv.Title, 0); err != nil {
			return err
		}
		o.bus.Emit(bus.KindTaskUpdated, task.ID)

		newMsgs, seenMsgs, err := o.syncConversation(ctx, task.ID, conv.ID, ownerID)
		if err != nil {
			// Isolated per conversation: the ledger entry stays
			// unadvanced and the run moves on.
			o.logger.Warn("conversation sync failed",
				zap.Int64("conversation_id", conv.ID),
				zap.String("title", conv.Title),
				zap.Error(err))
			_ = o.db.AppendTaskLog(task.ID, fmt.Sprintf("%s: %v", conv.Title, err))
			continue
		}

		synced++
		if err := o.db.BumpTaskCounters(task.ID, synced, seenMsgs, newMsgs, 0); err != nil {
			return err
		}
		if err := o.db.AppendTaskLog(task.ID, fmt.Sprintf("%s: %d messages, %d new", conv.Title, seenMsgs, newMsgs)); err != nil {
			return err
		}
		metrics.MessagesSynced.Add(float64(seenMsgs))
		o.bus.Emit(bus.KindConvSynced, conv.ID)
		o.bus.Emit(bus.KindTaskUpdated, task.ID)
	}

	if _, err := o.db.FinishTask(task.ID, store.TaskCompleted, ""); err != nil {
		return err
	}
	metrics.SyncRuns.WithLabelValues(store.TaskCompleted).Inc()
	o.bus.Emit(bus.KindTaskFinished, task.ID)
	return nil
}

// syncConversation pages one conversation forward from its high-water
// mark. The cursor advances only after every page persisted, so an
// interrupted pass resumes from the last durable position.
func (o *Orchestrator) syncConversation(ctx context.Context, taskID string, conversationID, ownerID int64) (newMsgs, seenMsgs int64, err error) {
	ledger, err := o.db.GetConversation(conversationID)
	if err != nil {
		return 0, 0, err
	}
	afterID := ledger.HighWaterMarkID
	startedFrom := afterID

	for {
		page, err := o.client.ListMessages(ctx, conversationID, afterID, o.pageSize)
		if err != nil {
			return newMsgs, seenMsgs, fmt.Errorf("list messages after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		batch := make([]*store.Message, 0, len(page))
		for i := range page {
			rm := &page[i]
			m := toStoreMessage(conversationID, rm)
			if o.download && m.HasAttachment {
				m.Attachment = o.fetcher.Fetch(ctx, ownerID, conversationID, rm)
			}
			batch = append(batch, m)
			if rm.ID > afterID {
				afterID = rm.ID
			}
		}

		n, err := o.db.UpsertMessages(batch)
		if err != nil {
			return newMsgs, seenMsgs, fmt.Errorf("upsert page: %w", err)
		}
		newMsgs += int64(n)
		seenMsgs += int64(len(batch))
		if err := o.db.SetTaskConversationProgress(taskID, seenMsgs); err != nil {
			return newMsgs, seenMsgs, err
		}

		if len(page) < o.pageSize {
			break
		}
	}

	if afterID > startedFrom || startedFrom == 0 {
		total, err := o.db.CountMessages(conversationID)
		if err != nil {
			return newMsgs, seenMsgs, err
		}
		now := time.Now().UnixMilli()
		if err := o.db.AdvanceConversationCursor(conversationID, afterID, now, total); err != nil {
			return newMsgs, seenMsgs, err
		}
	}
	return newMsgs, seenMsgs, nil
}

func (o *Orchestrator) fail(taskID, msg string) error {
	if _, err := o.db.FinishTask(taskID, store.TaskFailed, msg); err != nil {
		return err
	}
	metrics.SyncRuns.WithLabelValues(store.TaskFailed).Inc()
	o.bus.Emit(bus.KindTaskFinished, taskID)
	return nil
}

func toStoreMessage(conversationID int64, rm *telegram.RemoteMessage) *store.Message {
	m := &store.Message{
		ConversationID: conversationID,
		ID:             rm.ID,
		Text:           rm.Text,
		Date:           rm.Date,
		SenderID:       rm.SenderID,
		SenderName:     rm.SenderName,
		Outgoing:       rm.Outgoing,
		ReplyToID:      rm.ReplyToID,
		ForwardCount:   rm.ForwardCount,
		ViewCount:      rm.ViewCount,
	}
	if rm.Media != nil {
		m.MediaKind = rm.Media.Kind
		m.HasAttachment = telegram.Downloadable(rm.Media.Kind)
	}
	return m
}
