package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/store"
)

type startSyncRequest struct {
	Kind           string `json:"kind"`
	ConversationID int64  `json:"conversation_id"`
}

// taskResponse projects a task row for clients, derived fields included.
type taskResponse struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Status         string `json:"status"`

	TotalConversations  int64 `json:"total_conversations"`
	SyncedConversations int64 `json:"synced_conversations"`
	TotalMessages       int64 `json:"total_messages"`
	SyncedMessages      int64 `json:"synced_messages"`
	NewMessages         int64 `json:"new_messages"`
	DeletedMessages     int64 `json:"deleted_messages"`

	CurrentConversationID       int64  `json:"current_conversation_id,omitempty"`
	CurrentConversationTitle    string `json:"current_conversation_title,omitempty"`
	CurrentConversationProgress int64  `json:"current_conversation_progress,omitempty"`

	ProgressPercent int  `json:"progress_percent"`
	IsRunning       bool `json:"is_running"`
	IsFinished      bool `json:"is_finished"`

	CreatedAt    int64  `json:"created_at"`
	StartedAt    int64  `json:"started_at,omitempty"`
	CompletedAt  int64  `json:"completed_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Log          string `json:"log,omitempty"`
}

func toTaskResponse(t *store.Task) taskResponse {
	return taskResponse{
		ID:                          t.ID,
		Kind:                        t.Kind,
		ConversationID:              t.ConversationID,
		Status:                      t.Status,
		TotalConversations:          t.TotalConversations,
		SyncedConversations:         t.SyncedConversations,
		TotalMessages:               t.TotalMessages,
		SyncedMessages:              t.SyncedMessages,
		NewMessages:                 t.NewMessages,
		DeletedMessages:             t.DeletedMessages,
		CurrentConversationID:       t.CurrentConversationID,
		CurrentConversationTitle:    t.CurrentConversationTitle,
		CurrentConversationProgress: t.CurrentConversationProgress,
		ProgressPercent:             t.ProgressPercent(),
		IsRunning:                   t.IsRunning(),
		IsFinished:                  t.IsFinished(),
		CreatedAt:                   t.CreatedAt,
		StartedAt:                   t.StartedAt,
		CompletedAt:                 t.CompletedAt,
		ErrorMessage:                t.ErrorMessage,
		Log:                         t.Log,
	}
}

func (h *Handler) handleStartSync(w http.ResponseWriter, r *http.Request) {
	var req startSyncRequest
	if err := decodeJSON(w, r, 4096, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = store.TaskFullSync
	}

	task, err := h.manager.Start(r.Context(), req.Kind, req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrTaskActive) {
			writeError(w, http.StatusConflict, "task_active", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, toTaskResponse(task))
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.db.ListTasks(queryInt(r, "limit", 20))
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "list tasks failed")
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, toTaskResponse(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.db.GetTask(r.PathValue("id"))
	if errors.Is(err, store.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no such task")
		return
	}
	if err != nil {
		h.logger.Error("get task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "get task failed")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *Handler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	err := h.manager.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such task")
	case errors.Is(err, store.ErrTaskFinished):
		writeError(w, http.StatusConflict, "task_finished", "task already finished")
	case err != nil:
		h.logger.Error("cancel task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "cancel failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": store.TaskCancelled})
	}
}
