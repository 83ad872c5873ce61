package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run reports no change.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertKeepsCursor(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{ID: 42, Kind: KindGroup, Title: "Team", MemberCount: 12}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceConversationCursor(42, 500, time.Now().UnixMilli(), 100); err != nil {
		t.Fatal(err)
	}

	// A later listing refresh must not disturb the sync cursor.
	conv.Title = "Team Renamed"
	conv.Pinned = true
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation(42)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not found")
	}
	if got.Title != "Team Renamed" || !got.Pinned {
		t.Errorf("display fields not refreshed: %+v", got)
	}
	if got.HighWaterMarkID != 500 {
		t.Errorf("high water mark = %d, want 500 (must survive display upsert)", got.HighWaterMarkID)
	}
	if got.TotalMessageCount != 100 {
		t.Errorf("total = %d, want 100", got.TotalMessageCount)
	}
}

func TestCursorNeverRegresses(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: 1, Kind: KindDirect, Title: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceConversationCursor(1, 520, 1000, 20); err != nil {
		t.Fatal(err)
	}
	// A stale advance with a lower id must keep 520.
	if err := db.AdvanceConversationCursor(1, 480, 2000, 20); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.HighWaterMarkID != 520 {
		t.Errorf("high water mark = %d, want 520 (monotonic)", got.HighWaterMarkID)
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)

	c, err := db.GetConversation(999)
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing conversation")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ConversationID: 1, ID: 10, Text: "hello", Date: 1000, SenderName: "Alice"},
		{ConversationID: 1, ID: 11, Text: "world", Date: 2000, SenderName: "Bob"},
	}

	n, err := db.UpsertMessages(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("first pass new = %d, want 2", n)
	}

	first, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}

	// Applying the same page again adds nothing and changes no fields
	// except last_seen_at.
	time.Sleep(2 * time.Millisecond)
	n, err = db.UpsertMessages(msgs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second pass new = %d, want 0", n)
	}

	count, err := db.CountMessages(1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	second, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if second.Text != first.Text || second.FirstSeenAt != first.FirstSeenAt {
		t.Errorf("fields changed on idempotent upsert: %+v vs %+v", first, second)
	}
	if second.LastSeenAt < first.LastSeenAt {
		t.Error("last_seen_at did not advance")
	}

	// No edit entry for an unchanged text.
	edits, err := db.ListEdits(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 0 {
		t.Errorf("got %d edits, want 0", len(edits))
	}
}

func TestMessageEditRecorded(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Text: "original", Date: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Text: "edited", Date: 1000}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "edited" {
		t.Errorf("text = %q, want edited", m.Text)
	}

	edits, err := db.ListEdits(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 1 {
		t.Fatalf("got %d edits, want 1", len(edits))
	}
	if edits[0].PreviousText != "original" || edits[0].NewText != "edited" {
		t.Errorf("edit = %+v", edits[0])
	}
}

func TestUpsertFillsAbsentAttachment(t *testing.T) {
	db := testDB(t)

	// First sight: pending media, no descriptor.
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Date: 1000, HasAttachment: true, MediaKind: "photo"}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.ListPendingAttachments(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}

	// Second sight carries a descriptor: it fills in.
	att := &Attachment{LocalPath: "7/1/10/photo.jpg", FileName: "photo.jpg", SizeBytes: 1234, MimeType: "image/jpeg"}
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Date: 1000, HasAttachment: true, MediaKind: "photo", Attachment: att}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if m.Attachment == nil || m.Attachment.LocalPath != "7/1/10/photo.jpg" {
		t.Fatalf("attachment not filled: %+v", m.Attachment)
	}

	// A third sight without a descriptor must not clear it.
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Date: 1000, HasAttachment: true, MediaKind: "photo"}); err != nil {
		t.Fatal(err)
	}
	m, err = db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if m.Attachment == nil || m.Attachment.SizeBytes != 1234 {
		t.Errorf("attachment lost on later upsert: %+v", m.Attachment)
	}

	pending, err = db.ListPendingAttachments(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after fill, want 0", len(pending))
	}
}

func TestSetAttachmentKeepsLastSeen(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Date: 1000, HasAttachment: true, MediaKind: "document"}); err != nil {
		t.Fatal(err)
	}
	before, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := db.SetAttachment(1, 10, &Attachment{LocalPath: "7/1/10/doc.pdf", FileName: "doc.pdf", SizeBytes: 99}); err != nil {
		t.Fatal(err)
	}

	after, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if after.Attachment == nil || after.Attachment.FileName != "doc.pdf" {
		t.Fatalf("attachment not set: %+v", after.Attachment)
	}
	if after.LastSeenAt != before.LastSeenAt {
		t.Error("backfill must not advance last_seen_at")
	}
}

func TestMarkDeletedOneDirectional(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Text: "gone", Date: 1000}); err != nil {
		t.Fatal(err)
	}

	flipped, err := db.MarkDeleted(1, 10, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if !flipped {
		t.Fatal("first MarkDeleted should flip")
	}

	// Second call is a no-op.
	flipped, err = db.MarkDeleted(1, 10, 6000)
	if err != nil {
		t.Fatal(err)
	}
	if flipped {
		t.Error("second MarkDeleted should not flip")
	}

	// A later upsert (message reappearing upstream) never resurrects it.
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 10, Text: "gone", Date: 1000}); err != nil {
		t.Fatal(err)
	}
	m, err := db.GetMessage(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsDeleted {
		t.Error("is_deleted cleared by upsert; deletion must be one-directional")
	}
	if m.DeletedAt != 5000 {
		t.Errorf("deleted_at = %d, want 5000 (first flip wins)", m.DeletedAt)
	}
}

func TestListActiveMessageIDs(t *testing.T) {
	db := testDB(t)

	for id := int64(1); id <= 3; id++ {
		if _, err := db.UpsertMessage(&Message{ConversationID: 9, ID: id, Date: id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.MarkDeleted(9, 2, 1000); err != nil {
		t.Fatal(err)
	}

	ids, err := db.ListActiveMessageIDs(9)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d active ids, want 2", len(ids))
	}
	if _, ok := ids[2]; ok {
		t.Error("deleted id 2 still listed as active")
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 1, Text: "hello world", Date: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 2, Text: "goodbye world", Date: 2000}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(&Message{ConversationID: 2, ID: 1, Text: "hello again", Date: 3000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	results, err = db.SearchMessages("hello", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("scoped search got %d results, want 1", len(results))
	}
	if results[0].Message.ID != 1 || results[0].Message.ConversationID != 1 {
		t.Errorf("unexpected result: %+v", results[0].Message)
	}
	if results[0].Snippet == "" {
		t.Error("empty snippet")
	}
}

func TestSearchNonASCIIText(t *testing.T) {
	db := testDB(t)

	// Lowercasing U+0130 changes byte length, so the snippet offsets
	// must come from the original bytes, not a lowered copy.
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 1, Text: "İABC tail", Date: 1000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("abc", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !strings.Contains(results[0].Snippet, "<<ABC>>") {
		t.Errorf("snippet = %q, want match marked", results[0].Snippet)
	}
	if !utf8.ValidString(results[0].Snippet) {
		t.Errorf("snippet %q is not valid utf-8", results[0].Snippet)
	}
}

func TestSnippetKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("€", 40)

	// No-match fallback must not cut a rune in half.
	if got := snippet(long, "zz", 64); !utf8.ValidString(got) {
		t.Errorf("fallback snippet %q is not valid utf-8", got)
	}
	// Window edges around a match land mid-rune on both sides.
	if got := snippet(long+"needle"+long, "NEEDLE", 10); !utf8.ValidString(got) {
		t.Errorf("windowed snippet %q is not valid utf-8", got)
	} else if !strings.Contains(got, "<<needle>>") {
		t.Errorf("snippet = %q, want match marked", got)
	}
}

func TestListMessagesSameDatePaging(t *testing.T) {
	db := testDB(t)

	msgs := make([]*Message, 0, 5)
	for id := int64(1); id <= 5; id++ {
		msgs = append(msgs, &Message{ConversationID: 1, ID: id, Text: "x", Date: 5000})
	}
	if _, err := db.UpsertMessages(msgs); err != nil {
		t.Fatal(err)
	}

	var got []int64
	var before, beforeID int64
	for {
		page, err := db.ListMessages(1, before, beforeID, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			got = append(got, m.ID)
		}
		last := page[len(page)-1]
		before, beforeID = last.Date, last.ID
	}

	want := []int64{5, 4, 3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("paged ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paged ids = %v, want %v", got, want)
		}
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 1, Text: "100% done", Date: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertMessage(&Message{ConversationID: 1, ID: 2, Text: "fully done", Date: 2000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("100%", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (%% must be literal)", len(results))
	}
}
