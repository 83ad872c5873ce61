package store

import (
	"strings"
	"unicode/utf8"
)

// SearchMessages performs a substring search on message texts, newest
// first, and builds a short snippet around the first match.
func (db *DB) SearchMessages(query string, conversationID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	q := selectMessageCols + `
		FROM messages
		WHERE text LIKE '%' || ? || '%' ESCAPE '\'`

	args := []any{escapeLike(query)}
	if conversationID != 0 {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY date DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			Message: *m,
			Snippet: snippet(m.Text, query, 64),
		})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet returns a window of text around the first case-insensitive
// occurrence of query, marked with << >> like sqlite's fts snippet().
// Matching folds ASCII only, the same case rule sqlite's LIKE applies,
// so the offsets index the original bytes.
func snippet(text, query string, window int) string {
	idx := matchIndex(text, query)
	if idx < 0 {
		if len(text) > window {
			return text[:runeFloor(text, window)] + "..."
		}
		return text
	}
	start := runeFloor(text, idx-window/2)
	end := runeCeil(text, idx+len(query)+window/2)
	out := text[start:idx] + "<<" + text[idx:idx+len(query)] + ">>" + text[idx+len(query):end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

// matchIndex finds the first occurrence of query in text under ASCII
// case folding, returning a byte offset into text (-1 when absent).
func matchIndex(text, query string) int {
	n := len(query)
	if n == 0 || n > len(text) {
		return -1
	}
	for i := 0; i+n <= len(text); i++ {
		if asciiFoldEqual(text[i:i+n], query) {
			return i
		}
	}
	return -1
}

func asciiFoldEqual(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// runeFloor clamps i into [0, len(s)] and backs it off to the start of
// the rune it lands inside.
func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil clamps i into [0, len(s)] and advances it past any rune it
// lands inside.
func runeCeil(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	if i <= 0 {
		return 0
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
