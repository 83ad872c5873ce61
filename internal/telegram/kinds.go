package telegram

import (
	"strings"

	"github.com/telvault/telvault/internal/store"
)

// NormalizeKind maps the remote dialog taxonomy onto the four ledger
// kinds. Gigagroups behave like supergroups; anything with a member
// count but no channel flags is a plain group; everything else is a
// direct chat.
func NormalizeKind(kind string) string {
	switch strings.ToLower(kind) {
	case "megagroup", "gigagroup", "supergroup":
		return store.KindSupergroup
	case "broadcast", "channel":
		return store.KindChannel
	case "group", "chat":
		return store.KindGroup
	default:
		return store.KindDirect
	}
}

// Media kinds the remote history API reports.
const (
	MediaPhoto    = "photo"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaVoice    = "voice"
	MediaSticker  = "sticker"
	MediaDocument = "document"
	MediaWebPage  = "webpage"
	MediaContact  = "contact"
	MediaLocation = "location"
)

// Downloadable reports whether a media kind has a binary payload worth
// fetching. Link previews, contacts and locations carry only metadata.
func Downloadable(kind string) bool {
	switch kind {
	case MediaWebPage, MediaContact, MediaLocation, "":
		return false
	}
	return true
}
