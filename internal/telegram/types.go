package telegram

// Account identifies the authenticated remote account. UserID keys the
// media tree so archives from different accounts never collide.
type Account struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// RemoteConversation is one dialog as reported by the remote listing.
type RemoteConversation struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Username     string `json:"username"`
	MemberCount  int64  `json:"member_count"`
	Archived     bool   `json:"archived"`
	Pinned       bool   `json:"pinned"`
	MessageCount int64  `json:"message_count"`
}

// RemoteMessage is one message as reported by the remote history API.
// Date is unix milliseconds. Media is nil for plain text messages.
type RemoteMessage struct {
	ID           int64             `json:"id"`
	Text         string            `json:"text"`
	Date         int64             `json:"date"`
	SenderID     int64             `json:"sender_id"`
	SenderName   string            `json:"sender_name"`
	Outgoing     bool              `json:"outgoing"`
	ReplyToID    int64             `json:"reply_to_id"`
	ForwardCount int64             `json:"forward_count"`
	ViewCount    int64             `json:"view_count"`
	Media        *RemoteAttachment `json:"media"`
}

// RemoteAttachment describes the media carried by a message before
// download. Size and dimensions are best effort; zero means unreported.
type RemoteAttachment struct {
	Kind            string `json:"kind"`
	FileName        string `json:"file_name"`
	SizeBytes       int64  `json:"size_bytes"`
	MimeType        string `json:"mime_type"`
	Width           int64  `json:"width"`
	Height          int64  `json:"height"`
	DurationSeconds int64  `json:"duration_seconds"`
}
