// Package media downloads message attachments into the session media
// tree and records their metadata.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/store"
	"github.com/telvault/telvault/internal/telegram"
)

// Fetcher materializes attachments under
// {root}/{ownerID}/{conversationID}/{messageID}/{filename}. The owner
// segment keeps archives from different accounts apart when the media
// root is shared.
type Fetcher struct {
	client telegram.Client
	root   string
	logger *zap.Logger
}

// NewFetcher creates a fetcher writing under the given media root.
func NewFetcher(client telegram.Client, root string, logger *zap.Logger) *Fetcher {
	return &Fetcher{client: client, root: root, logger: logger}
}

// Fetch downloads the media payload of one remote message and returns
// its descriptor. Returns nil when the message carries no media or the
// media kind has no binary payload. Download failures also return nil
// after a logged warning; the message stays pending and a later
// backfill retries it. Fetch never fails a sync pass.
func (f *Fetcher) Fetch(ctx context.Context, ownerID, conversationID int64, msg *telegram.RemoteMessage) *store.Attachment {
	if msg.Media == nil || !telegram.Downloadable(msg.Media.Kind) {
		return nil
	}

	name := msg.Media.FileName
	if name == "" {
		name = defaultFileName(msg.Media)
	}
	relPath := filepath.Join(
		fmt.Sprint(ownerID), fmt.Sprint(conversationID), fmt.Sprint(msg.ID), name)
	destPath := filepath.Join(f.root, relPath)

	ref := telegram.MessageRef{ConversationID: conversationID, MessageID: msg.ID}
	written, err := f.client.DownloadAttachment(ctx, ref, destPath)
	if err != nil {
		f.logger.Warn("attachment download failed",
			zap.Int64("conversation_id", conversationID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err))
		return nil
	}

	size := msg.Media.SizeBytes
	if size == 0 {
		size = written
	}
	if size == 0 {
		if info, err := os.Stat(destPath); err == nil {
			size = info.Size()
		}
	}

	mimeType := msg.Media.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}

	return &store.Attachment{
		LocalPath:       relPath,
		FileName:        name,
		SizeBytes:       size,
		MimeType:        mimeType,
		Width:           msg.Media.Width,
		Height:          msg.Media.Height,
		DurationSeconds: msg.Media.DurationSeconds,
	}
}

func defaultFileName(att *telegram.RemoteAttachment) string {
	switch att.Kind {
	case telegram.MediaPhoto:
		return "photo.jpg"
	case telegram.MediaVideo:
		return "video.mp4"
	case telegram.MediaVoice:
		return "voice.ogg"
	case telegram.MediaAudio:
		return "audio.mp3"
	case telegram.MediaSticker:
		return "sticker.webp"
	default:
		return "file.bin"
	}
}
