package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// UpsertMessage inserts or updates a single message (idempotent on
// conversation_id + message_id). Returns true if the message was new.
func (db *DB) UpsertMessage(m *Message) (bool, error) {
	n, err := db.UpsertMessages([]*Message{m})
	return n == 1, err
}

// UpsertMessages applies one page of remote messages in a transaction.
// First sight inserts with first_seen_at = now; every later sight only
// advances last_seen_at, refreshes the mutable counters and fills in
// attachment fields that were previously absent. A changed text is
// recorded in message_edits before the stored text is replaced, and
// is_deleted is never touched here, so a message the reconciler marked
// deleted stays deleted even when it shows up in a listing again.
func (db *DB) UpsertMessages(msgs []*Message) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	newCount := 0
	for _, m := range msgs {
		isNew, err := upsertMessageTx(tx, m, now)
		if err != nil {
			return 0, fmt.Errorf("upsert message %d/%d: %w", m.ConversationID, m.ID, err)
		}
		if isNew {
			newCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newCount, nil
}

func upsertMessageTx(tx *sql.Tx, m *Message, now int64) (bool, error) {
	var existingText string
	err := tx.QueryRow(`
		SELECT text FROM messages WHERE conversation_id = ? AND message_id = ?`,
		m.ConversationID, m.ID).Scan(&existingText)

	var localPath, fileName, mimeType any
	var sizeBytes, width, height, duration any
	if a := m.Attachment; a != nil {
		localPath, fileName, mimeType = a.LocalPath, a.FileName, a.MimeType
		sizeBytes, width, height, duration = a.SizeBytes, a.Width, a.Height, a.DurationSeconds
	}

	if err == sql.ErrNoRows {
		_, err = tx.Exec(`
			INSERT INTO messages (conversation_id, message_id, text, date, sender_id, sender_name, outgoing,
				has_attachment, media_kind, reply_to_id, forward_count, view_count,
				local_path, file_name, size_bytes, mime_type, width, height, duration_secs,
				first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, NULLIF(?, 0), ?, ?, ?, NULLIF(?, ''), NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ConversationID, m.ID, m.Text, m.Date, m.SenderID, m.SenderName, m.Outgoing,
			m.HasAttachment, m.MediaKind, m.ReplyToID, m.ForwardCount, m.ViewCount,
			localPath, fileName, sizeBytes, mimeType, width, height, duration,
			now, now)
		return true, err
	}
	if err != nil {
		return false, err
	}

	if existingText != m.Text {
		if _, err := tx.Exec(`
			INSERT INTO message_edits (conversation_id, message_id, previous_text, new_text, detected_at)
			VALUES (?, ?, ?, ?, ?)`,
			m.ConversationID, m.ID, existingText, m.Text, now); err != nil {
			return false, fmt.Errorf("record edit: %w", err)
		}
	}

	_, err = tx.Exec(`
		UPDATE messages SET
			text = ?,
			sender_name = ?,
			forward_count = ?,
			view_count = ?,
			has_attachment = MAX(has_attachment, ?),
			local_path = COALESCE(local_path, ?),
			file_name = COALESCE(file_name, ?),
			size_bytes = COALESCE(size_bytes, ?),
			mime_type = COALESCE(mime_type, ?),
			width = COALESCE(width, ?),
			height = COALESCE(height, ?),
			duration_secs = COALESCE(duration_secs, ?),
			last_seen_at = ?
		WHERE conversation_id = ? AND message_id = ?`,
		m.Text, m.SenderName, m.ForwardCount, m.ViewCount, m.HasAttachment,
		localPath, fileName, sizeBytes, mimeType, width, height, duration,
		now, m.ConversationID, m.ID)
	return false, err
}

// GetMessage returns a single message, or nil if absent.
func (db *DB) GetMessage(conversationID, messageID int64) (*Message, error) {
	row := db.QueryRow(selectMessageCols+`
		FROM messages WHERE conversation_id = ? AND message_id = ?`,
		conversationID, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages for a conversation using keyset
// pagination, newest first. The key is the composite (date, message_id)
// because remote dates have second resolution and collide routinely; a
// date-only cursor would skip the rest of a tied page. beforeID breaks
// ties within beforeDate; pass 0 to start from the newest row.
func (db *DB) ListMessages(conversationID int64, beforeDate, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeDate <= 0 {
		beforeDate = time.Now().UnixMilli() + 1
	}
	if beforeID <= 0 {
		beforeID = math.MaxInt64
	}
	rows, err := db.Query(selectMessageCols+`
		FROM messages
		WHERE conversation_id = ? AND (date < ? OR (date = ? AND message_id < ?))
		ORDER BY date DESC, message_id DESC
		LIMIT ?`, conversationID, beforeDate, beforeDate, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of stored rows for a conversation,
// deleted ones included (deletion is a flag, never a row removal).
func (db *DB) CountMessages(conversationID int64) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// ListActiveMessageIDs returns the set of ids not yet marked deleted.
// This is the local side of the reconciler's set difference.
func (db *DB) ListActiveMessageIDs(conversationID int64) (map[int64]struct{}, error) {
	rows, err := db.Query(`
		SELECT message_id FROM messages WHERE conversation_id = ? AND is_deleted = 0`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkDeleted flags a single message as deleted upstream. Flipping is
// one-directional; a second call is a no-op.
func (db *DB) MarkDeleted(conversationID, messageID, when int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET is_deleted = 1, deleted_at = ?
		WHERE conversation_id = ? AND message_id = ? AND is_deleted = 0`,
		when, conversationID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkDeletedBatch flags a set of message ids in one transaction and
// returns how many actually flipped.
func (db *DB) MarkDeletedBatch(conversationID int64, ids []int64, when int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var flipped int64
	for _, id := range ids {
		res, err := tx.Exec(`
			UPDATE messages SET is_deleted = 1, deleted_at = ?
			WHERE conversation_id = ? AND message_id = ? AND is_deleted = 0`,
			when, conversationID, id)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		flipped += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return flipped, nil
}

// ListPendingAttachments returns messages whose media was never
// downloaded: has_attachment set, no local file recorded.
func (db *DB) ListPendingAttachments(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(selectMessageCols+`
		FROM messages
		WHERE has_attachment = 1 AND local_path IS NULL AND is_deleted = 0
		ORDER BY conversation_id, message_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetAttachment records a completed download for a message. It does not
// advance last_seen_at: a pure attachment backfill is not a sighting.
func (db *DB) SetAttachment(conversationID, messageID int64, a *Attachment) error {
	_, err := db.Exec(`
		UPDATE messages SET
			local_path = ?, file_name = ?, size_bytes = ?, mime_type = ?,
			width = NULLIF(?, 0), height = NULLIF(?, 0), duration_secs = NULLIF(?, 0)
		WHERE conversation_id = ? AND message_id = ?`,
		a.LocalPath, a.FileName, a.SizeBytes, a.MimeType,
		a.Width, a.Height, a.DurationSeconds,
		conversationID, messageID)
	return err
}

const selectMessageCols = `
	SELECT conversation_id, message_id, text, date, sender_id, sender_name, outgoing,
	       has_attachment, media_kind, reply_to_id, forward_count, view_count,
	       local_path, file_name, size_bytes, mime_type, width, height, duration_secs,
	       is_deleted, deleted_at, first_seen_at, last_seen_at`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var senderID, replyTo, deletedAt sql.NullInt64
	var mediaKind, localPath, fileName, mimeType sql.NullString
	var sizeBytes, width, height, duration sql.NullInt64
	var forwardCount, viewCount sql.NullInt64

	err := row.Scan(&m.ConversationID, &m.ID, &m.Text, &m.Date, &senderID, &m.SenderName, &m.Outgoing,
		&m.HasAttachment, &mediaKind, &replyTo, &forwardCount, &viewCount,
		&localPath, &fileName, &sizeBytes, &mimeType, &width, &height, &duration,
		&m.IsDeleted, &deletedAt, &m.FirstSeenAt, &m.LastSeenAt)
	if err != nil {
		return nil, err
	}

	m.SenderID = senderID.Int64
	m.MediaKind = mediaKind.String
	m.ReplyToID = replyTo.Int64
	m.ForwardCount = forwardCount.Int64
	m.ViewCount = viewCount.Int64
	m.DeletedAt = deletedAt.Int64
	if localPath.Valid {
		m.Attachment = &Attachment{
			LocalPath:       localPath.String,
			FileName:        fileName.String,
			SizeBytes:       sizeBytes.Int64,
			MimeType:        mimeType.String,
			Width:           width.Int64,
			Height:          height.Int64,
			DurationSeconds: duration.Int64,
		}
	}
	return &m, nil
}
