package telegram

import (
	"testing"

	"github.com/telvault/telvault/internal/store"
)

func TestNormalizeKind(t *testing.T) {
	cases := map[string]string{
		"megagroup":  store.KindSupergroup,
		"gigagroup":  store.KindSupergroup,
		"supergroup": store.KindSupergroup,
		"broadcast":  store.KindChannel,
		"channel":    store.KindChannel,
		"group":      store.KindGroup,
		"chat":       store.KindGroup,
		"user":       store.KindDirect,
		"":           store.KindDirect,
		"Megagroup":  store.KindSupergroup,
	}
	for in, want := range cases {
		if got := NormalizeKind(in); got != want {
			t.Errorf("NormalizeKind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDownloadable(t *testing.T) {
	for _, kind := range []string{MediaPhoto, MediaVideo, MediaAudio, MediaVoice, MediaSticker, MediaDocument} {
		if !Downloadable(kind) {
			t.Errorf("Downloadable(%q) = false, want true", kind)
		}
	}
	for _, kind := range []string{MediaWebPage, MediaContact, MediaLocation, ""} {
		if Downloadable(kind) {
			t.Errorf("Downloadable(%q) = true, want false", kind)
		}
	}
}
