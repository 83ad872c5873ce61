package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or refreshes a ledger entry. Only the
// display fields are overwritten on conflict; the sync cursor
// (high_water_mark_id, last_full_sync_at, total_message_count) is owned
// by AdvanceConversationCursor and left untouched.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (conversation_id, kind, title, username, member_count, archived, pinned, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, 0), ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			username = excluded.username,
			member_count = COALESCE(excluded.member_count, conversations.member_count),
			archived = excluded.archived,
			pinned = excluded.pinned,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, c.Title, c.Username, c.MemberCount, c.Archived, c.Pinned, now, now, now)
	return err
}

// AdvanceConversationCursor records a completed sync pass over a
// conversation. The high-water mark never regresses: MAX() keeps the
// stored value when hwm is stale or zero.
func (db *DB) AdvanceConversationCursor(conversationID, hwm, fullSyncAt, totalMessages int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			high_water_mark_id = MAX(high_water_mark_id, ?),
			last_full_sync_at = ?,
			total_message_count = ?,
			updated_at = ?
		WHERE conversation_id = ?`,
		hwm, fullSyncAt, totalMessages, now, conversationID)
	return err
}

// GetConversation returns a single ledger entry, or nil if unknown.
func (db *DB) GetConversation(conversationID int64) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT conversation_id, kind, title, username, member_count, archived, pinned,
		       high_water_mark_id, last_synced_at, last_full_sync_at, total_message_count
		FROM conversations
		WHERE conversation_id = ?`, conversationID)

	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns all ledger entries, pinned first, most
// recently refreshed first.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT conversation_id, kind, title, username, member_count, archived, pinned,
		       high_water_mark_id, last_synced_at, last_full_sync_at, total_message_count
		FROM conversations
		ORDER BY pinned DESC, last_synced_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var memberCount, lastFullSync sql.NullInt64
	err := row.Scan(&c.ID, &c.Kind, &c.Title, &c.Username, &memberCount, &c.Archived, &c.Pinned,
		&c.HighWaterMarkID, &c.LastSyncedAt, &lastFullSync, &c.TotalMessageCount)
	if err != nil {
		return nil, err
	}
	c.MemberCount = memberCount.Int64
	c.LastFullSyncAt = lastFullSync.Int64
	return &c, nil
}
