package media

import (
	"context"

	"github.com/telvault/telvault/internal/store"
	"github.com/telvault/telvault/internal/telegram"
)

// Backfill drains the pending-attachment backlog: messages with media
// flagged but no descriptor recorded. It claims batches until the
// backlog is empty or ctx is cancelled, and returns how many
// attachments it fetched. Individual download failures are skipped,
// never fatal.
func (f *Fetcher) Backfill(ctx context.Context, db *store.DB, ownerID int64) (int64, error) {
	var fetched int64
	// Track what this pass already tried so a persistent failure does
	// not spin the loop forever.
	tried := make(map[telegram.MessageRef]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}
		pending, err := db.ListPendingAttachments(0)
		if err != nil {
			return fetched, err
		}

		progressed := false
		for _, m := range pending {
			ref := telegram.MessageRef{ConversationID: m.ConversationID, MessageID: m.ID}
			if _, seen := tried[ref]; seen {
				continue
			}
			tried[ref] = struct{}{}

			remote := &telegram.RemoteMessage{
				ID:    m.ID,
				Media: &telegram.RemoteAttachment{Kind: m.MediaKind},
			}
			att := f.Fetch(ctx, ownerID, m.ConversationID, remote)
			if att == nil {
				continue
			}
			if err := db.SetAttachment(m.ConversationID, m.ID, att); err != nil {
				return fetched, err
			}
			fetched++
			progressed = true
		}

		if !progressed {
			return fetched, nil
		}
	}
}
