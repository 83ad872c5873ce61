package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/telvault/telvault/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB) {
	t.Helper()
	if err := db.UpsertConversation(&store.Conversation{ID: 1, Kind: store.KindDirect, Title: "Alice"}); err != nil {
		t.Fatal(err)
	}
	msgs := []*store.Message{
		{ConversationID: 1, ID: 1, Text: "first", Date: 1000, SenderName: "Alice"},
		{ConversationID: 1, ID: 2, Text: "second, with a comma", Date: 2000, SenderName: "Me", Outgoing: true},
		{ConversationID: 1, ID: 3, Text: "third", Date: 3000, SenderName: "Alice"},
	}
	if _, err := db.UpsertMessages(msgs); err != nil {
		t.Fatal(err)
	}
	if _, err := db.MarkDeleted(1, 2, 5000); err != nil {
		t.Fatal(err)
	}
}

func TestWriteJSON(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	var buf bytes.Buffer
	if err := Write(&buf, db, 1, FormatJSON); err != nil {
		t.Fatal(err)
	}

	var out struct {
		Conversation struct {
			Title string `json:"title"`
		} `json:"conversation"`
		Messages []struct {
			ID      int64  `json:"id"`
			Text    string `json:"text"`
			Deleted bool   `json:"deleted"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Conversation.Title != "Alice" {
		t.Errorf("title = %q", out.Conversation.Title)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (deleted ones included)", len(out.Messages))
	}
	// Chronological order, oldest first.
	if out.Messages[0].ID != 1 || out.Messages[2].ID != 3 {
		t.Errorf("order = %d..%d", out.Messages[0].ID, out.Messages[2].ID)
	}
	if !out.Messages[1].Deleted {
		t.Error("deleted flag lost")
	}
}

func TestWriteCSV(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	var buf bytes.Buffer
	if err := Write(&buf, db, 1, FormatCSV); err != nil {
		t.Fatal(err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(records))
	}
	if records[0][0] != "message_id" {
		t.Errorf("header = %v", records[0])
	}
	if records[2][4] != "second, with a comma" {
		t.Errorf("text round-trip = %q", records[2][4])
	}
	if records[2][7] != "true" {
		t.Errorf("deleted column = %q", records[2][7])
	}
}

func TestWriteSameDatePageBoundary(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation(&store.Conversation{ID: 1, Kind: store.KindDirect, Title: "Alice"}); err != nil {
		t.Fatal(err)
	}

	// Remote dates have second resolution, so a page boundary inside a
	// run of equal-date rows is the normal case, not a corner.
	const n = exportPageSize + 5
	msgs := make([]*store.Message, 0, n)
	for id := int64(1); id <= n; id++ {
		msgs = append(msgs, &store.Message{ConversationID: 1, ID: id, Text: "x", Date: 5000})
	}
	if _, err := db.UpsertMessages(msgs); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, db, 1, FormatJSON); err != nil {
		t.Fatal(err)
	}

	var out struct {
		Messages []struct {
			ID int64 `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != n {
		t.Fatalf("exported %d messages, want %d", len(out.Messages), n)
	}
	if out.Messages[0].ID != 1 || out.Messages[n-1].ID != n {
		t.Errorf("order = %d..%d, want 1..%d", out.Messages[0].ID, out.Messages[n-1].ID, n)
	}
}

func TestWriteMissingConversation(t *testing.T) {
	db := testDB(t)

	var buf bytes.Buffer
	err := Write(&buf, db, 99, FormatJSON)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatJSON {
		t.Errorf("default = %v, %v", f, err)
	}
	if f, err := ParseFormat("csv"); err != nil || f != FormatCSV {
		t.Errorf("csv = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}
