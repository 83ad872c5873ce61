package telegram

import (
	"context"
	"fmt"
	"time"
)

// Client is the capability surface the sync engine consumes from the
// remote messaging API. Implementations own the live connection and its
// authentication state; the engine only drives calls through it.
//
// ListMessages returns messages with id > afterID in ascending id order.
// ListAllMessageIDs returns the complete current id set for a
// conversation, paginated internally by the implementation.
type Client interface {
	Connect(ctx context.Context) (*Account, error)
	ListConversations(ctx context.Context) ([]RemoteConversation, error)
	ListMessages(ctx context.Context, conversationID, afterID int64, limit int) ([]RemoteMessage, error)
	ListAllMessageIDs(ctx context.Context, conversationID int64) (map[int64]struct{}, error)
	DownloadAttachment(ctx context.Context, ref MessageRef, destPath string) (int64, error)
	Close() error
}

// MessageRef addresses one remote message for attachment download.
type MessageRef struct {
	ConversationID int64
	MessageID      int64
}

// FloodWaitError is the remote API's rate-limit signal. The engine does
// not retry; it surfaces the wait and fails the run.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.Wait)
}
