// Package export renders a conversation's archive as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/telvault/telvault/internal/store"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// exportPageSize bounds how many messages one listing call loads.
const exportPageSize = 1000

// Write streams the full history of one conversation, oldest first,
// deleted messages included.
func Write(w io.Writer, db *store.DB, conversationID int64, format Format) error {
	conv, err := db.GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %d not found", conversationID)
	}

	msgs, err := loadAll(db, conversationID)
	if err != nil {
		return err
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, msgs)
	default:
		return writeJSON(w, conv, msgs)
	}
}

// loadAll pages the store newest-first and reverses into chronological
// order in memory.
func loadAll(db *store.DB, conversationID int64) ([]store.Message, error) {
	var all []store.Message
	var before, beforeID int64
	for {
		page, err := db.ListMessages(conversationID, before, beforeID, exportPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		last := page[len(page)-1]
		before, beforeID = last.Date, last.ID
		if len(page) < exportPageSize {
			break
		}
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

type jsonExport struct {
	Conversation jsonConversation `json:"conversation"`
	ExportedAt   string           `json:"exported_at"`
	Messages     []jsonMessage    `json:"messages"`
}

type jsonConversation struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

type jsonMessage struct {
	ID         int64             `json:"id"`
	Date       string            `json:"date"`
	SenderName string            `json:"sender_name,omitempty"`
	Outgoing   bool              `json:"outgoing"`
	Text       string            `json:"text"`
	MediaKind  string            `json:"media_kind,omitempty"`
	Attachment *store.Attachment `json:"attachment,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	DeletedAt  string            `json:"deleted_at,omitempty"`
}

func writeJSON(w io.Writer, conv *store.Conversation, msgs []store.Message) error {
	out := jsonExport{
		Conversation: jsonConversation{ID: conv.ID, Kind: conv.Kind, Title: conv.Title},
		ExportedAt:   time.Now().UTC().Format(time.RFC3339),
		Messages:     make([]jsonMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		jm := jsonMessage{
			ID:         m.ID,
			Date:       formatMillis(m.Date),
			SenderName: m.SenderName,
			Outgoing:   m.Outgoing,
			Text:       m.Text,
			MediaKind:  m.MediaKind,
			Attachment: m.Attachment,
			Deleted:    m.IsDeleted,
		}
		if m.IsDeleted {
			jm.DeletedAt = formatMillis(m.DeletedAt)
		}
		out.Messages = append(out.Messages, jm)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var csvHeader = []string{
	"message_id", "date", "sender", "outgoing", "text",
	"media_kind", "attachment_path", "deleted", "deleted_at",
}

func writeCSV(w io.Writer, msgs []store.Message) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, m := range msgs {
		var attPath string
		if m.Attachment != nil {
			attPath = m.Attachment.LocalPath
		}
		var deletedAt string
		if m.IsDeleted {
			deletedAt = formatMillis(m.DeletedAt)
		}
		record := []string{
			strconv.FormatInt(m.ID, 10),
			formatMillis(m.Date),
			m.SenderName,
			strconv.FormatBool(m.Outgoing),
			m.Text,
			m.MediaKind,
			attPath,
			strconv.FormatBool(m.IsDeleted),
			deletedAt,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
