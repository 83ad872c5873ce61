package store

// ListEdits returns the recorded text history of a message, newest first.
func (db *DB) ListEdits(conversationID, messageID int64) ([]Edit, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, message_id, previous_text, new_text, detected_at
		FROM message_edits
		WHERE conversation_id = ? AND message_id = ?
		ORDER BY detected_at DESC, id DESC`, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var edits []Edit
	for rows.Next() {
		var e Edit
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.MessageID, &e.PreviousText, &e.NewText, &e.DetectedAt); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}
