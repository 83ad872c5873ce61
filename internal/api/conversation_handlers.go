package api

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/export"
	"github.com/telvault/telvault/internal/store"
)

type conversationResponse struct {
	ID                int64  `json:"id"`
	Kind              string `json:"kind"`
	Title             string `json:"title"`
	Username          string `json:"username,omitempty"`
	MemberCount       int64  `json:"member_count,omitempty"`
	Archived          bool   `json:"archived,omitempty"`
	Pinned            bool   `json:"pinned,omitempty"`
	HighWaterMarkID   int64  `json:"high_water_mark_id"`
	LastSyncedAt      int64  `json:"last_synced_at,omitempty"`
	LastFullSyncAt    int64  `json:"last_full_sync_at,omitempty"`
	TotalMessageCount int64  `json:"total_message_count"`
}

type messageResponse struct {
	ConversationID int64             `json:"conversation_id"`
	ID             int64             `json:"id"`
	Text           string            `json:"text"`
	Date           int64             `json:"date"`
	SenderID       int64             `json:"sender_id,omitempty"`
	SenderName     string            `json:"sender_name,omitempty"`
	Outgoing       bool              `json:"outgoing"`
	HasAttachment  bool              `json:"has_attachment,omitempty"`
	MediaKind      string            `json:"media_kind,omitempty"`
	ReplyToID      int64             `json:"reply_to_id,omitempty"`
	ForwardCount   int64             `json:"forward_count,omitempty"`
	ViewCount      int64             `json:"view_count,omitempty"`
	Attachment     *store.Attachment `json:"attachment,omitempty"`
	IsDeleted      bool              `json:"is_deleted,omitempty"`
	DeletedAt      int64             `json:"deleted_at,omitempty"`
	FirstSeenAt    int64             `json:"first_seen_at"`
	LastSeenAt     int64             `json:"last_seen_at"`
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:                c.ID,
		Kind:              c.Kind,
		Title:             c.Title,
		Username:          c.Username,
		MemberCount:       c.MemberCount,
		Archived:          c.Archived,
		Pinned:            c.Pinned,
		HighWaterMarkID:   c.HighWaterMarkID,
		LastSyncedAt:      c.LastSyncedAt,
		LastFullSyncAt:    c.LastFullSyncAt,
		TotalMessageCount: c.TotalMessageCount,
	}
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ConversationID: m.ConversationID,
		ID:             m.ID,
		Text:           m.Text,
		Date:           m.Date,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Outgoing:       m.Outgoing,
		HasAttachment:  m.HasAttachment,
		MediaKind:      m.MediaKind,
		ReplyToID:      m.ReplyToID,
		ForwardCount:   m.ForwardCount,
		ViewCount:      m.ViewCount,
		Attachment:     m.Attachment,
		IsDeleted:      m.IsDeleted,
		DeletedAt:      m.DeletedAt,
		FirstSeenAt:    m.FirstSeenAt,
		LastSeenAt:     m.LastSeenAt,
	}
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.db.ListConversations()
	if err != nil {
		h.logger.Error("list conversations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "list conversations failed")
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for i := range convs {
		out = append(out, toConversationResponse(&convs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return
	}
	conv, err := h.db.GetConversation(convID)
	if err != nil {
		h.logger.Error("get conversation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "get conversation failed")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return
	}
	msgs, err := h.db.ListMessages(convID, queryInt64(r, "before"), queryInt64(r, "before_id"), queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "list messages failed")
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageResponse(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListEdits(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return
	}
	msgID, ok := pathInt64(r, "mid")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid message id")
		return
	}
	edits, err := h.db.ListEdits(convID, msgID)
	if err != nil {
		h.logger.Error("list edits failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "list edits failed")
		return
	}
	type editResponse struct {
		PreviousText string `json:"previous_text"`
		NewText      string `json:"new_text"`
		DetectedAt   int64  `json:"detected_at"`
	}
	out := make([]editResponse, 0, len(edits))
	for _, e := range edits {
		out = append(out, editResponse{
			PreviousText: e.PreviousText,
			NewText:      e.NewText,
			DetectedAt:   e.DetectedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid conversation id")
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	conv, err := h.db.GetConversation(convID)
	if err != nil {
		h.logger.Error("export lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "export failed")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "not_found", "no such conversation")
		return
	}

	switch format {
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=conversation-%d.%s", convID, format))

	if err := export.Write(w, h.db, convID, format); err != nil {
		// Headers may already be out; log and truncate.
		h.logger.Error("export failed", zap.Int64("conversation_id", convID), zap.Error(err))
	}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing query")
		return
	}
	results, err := h.db.SearchMessages(query, queryInt64(r, "conversation_id"), queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "search failed")
		return
	}
	type searchResponse struct {
		Message messageResponse `json:"message"`
		Snippet string          `json:"snippet"`
	}
	out := make([]searchResponse, 0, len(results))
	for i := range results {
		out = append(out, searchResponse{
			Message: toMessageResponse(&results[i].Message),
			Snippet: results[i].Snippet,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
