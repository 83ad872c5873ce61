// Package telegramtest provides an in-memory fake of the remote client
// for sync and media tests.
package telegramtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/telvault/telvault/internal/telegram"
)

// Fake is an in-memory telegram.Client backed by fixture data. All
// fields may be mutated between calls to simulate remote-side changes;
// the zero value is ready to use.
type Fake struct {
	mu sync.Mutex

	Account       telegram.Account
	Conversations []telegram.RemoteConversation
	// Messages maps conversation id -> messages, any order.
	Messages map[int64][]telegram.RemoteMessage
	// Payloads maps message ref -> attachment bytes for downloads.
	Payloads map[telegram.MessageRef][]byte

	// Error injection. ConnectErr fails Connect; ListConvsErr fails the
	// full listing; PerConvErr fails calls scoped to one conversation.
	ConnectErr   error
	ListConvsErr error
	PerConvErr   map[int64]error
	DownloadErr  error

	// Call counters for assertions.
	ConnectCalls  int
	DownloadCalls int
}

var _ telegram.Client = (*Fake)(nil)

func (f *Fake) Connect(ctx context.Context) (*telegram.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectCalls++
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	acct := f.Account
	return &acct, nil
}

func (f *Fake) ListConversations(ctx context.Context) ([]telegram.RemoteConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListConvsErr != nil {
		return nil, f.ListConvsErr
	}
	out := make([]telegram.RemoteConversation, len(f.Conversations))
	copy(out, f.Conversations)
	return out, nil
}

func (f *Fake) ListMessages(ctx context.Context, conversationID, afterID int64, limit int) ([]telegram.RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.PerConvErr[conversationID]; err != nil {
		return nil, err
	}
	var page []telegram.RemoteMessage
	for _, m := range f.Messages[conversationID] {
		if m.ID > afterID {
			page = append(page, m)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (f *Fake) ListAllMessageIDs(ctx context.Context, conversationID int64) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.PerConvErr[conversationID]; err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(f.Messages[conversationID]))
	for _, m := range f.Messages[conversationID] {
		ids[m.ID] = struct{}{}
	}
	return ids, nil
}

func (f *Fake) DownloadAttachment(ctx context.Context, ref telegram.MessageRef, destPath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DownloadCalls++
	if f.DownloadErr != nil {
		return 0, f.DownloadErr
	}
	payload, ok := f.Payloads[ref]
	if !ok {
		return 0, errors.New("no payload for message")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(destPath, payload, 0o644); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

func (f *Fake) Close() error { return nil }

// AddMessages appends fixture messages to a conversation.
func (f *Fake) AddMessages(conversationID int64, msgs ...telegram.RemoteMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Messages == nil {
		f.Messages = make(map[int64][]telegram.RemoteMessage)
	}
	f.Messages[conversationID] = append(f.Messages[conversationID], msgs...)
}

// RemoveMessage drops a fixture message, simulating an upstream delete.
func (f *Fake) RemoveMessage(conversationID, messageID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.Messages[conversationID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.Messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("no message %d in conversation %d", messageID, conversationID))
}
