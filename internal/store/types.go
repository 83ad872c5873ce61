package store

// Conversation kinds as reported by the remote listing.
const (
	KindDirect     = "direct"
	KindGroup      = "group"
	KindSupergroup = "supergroup"
	KindChannel    = "channel"
)

// Conversation is the ledger entry for one remote conversation.
// HighWaterMarkID is the highest message id successfully persisted and
// anchors incremental resumption; it only ever moves forward.
type Conversation struct {
	ID                int64
	Kind              string
	Title             string
	Username          string
	MemberCount       int64 // 0 = unknown
	Archived          bool
	Pinned            bool
	HighWaterMarkID   int64
	LastSyncedAt      int64 // unix ms, display-field refresh
	LastFullSyncAt    int64 // unix ms, 0 = never fully paged
	TotalMessageCount int64
}

// Message is one archived message. Identity is (ConversationID, ID);
// deletion is a logical flag set by the reconciler and never cleared by
// the forward-sync path.
type Message struct {
	ConversationID int64
	ID             int64
	Text           string
	Date           int64 // unix ms, remote timestamp
	SenderID       int64
	SenderName     string
	Outgoing       bool
	HasAttachment  bool
	MediaKind      string
	ReplyToID      int64
	ForwardCount   int64
	ViewCount      int64

	// Attachment is nil while the download is still pending.
	Attachment *Attachment

	IsDeleted bool
	DeletedAt int64

	FirstSeenAt int64
	LastSeenAt  int64
}

// Attachment describes a downloaded media file. LocalPath is relative to
// the session media root so the archive survives being moved.
type Attachment struct {
	LocalPath       string
	FileName        string
	SizeBytes       int64
	MimeType        string
	Width           int64
	Height          int64
	DurationSeconds int64
}

// Edit is one recorded text change of a message, detected when an upsert
// sees a different text than the stored one.
type Edit struct {
	ID             int64
	ConversationID int64
	MessageID      int64
	PreviousText   string
	NewText        string
	DetectedAt     int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
