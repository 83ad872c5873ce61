// Package client is the HTTP client used by telvaultctl to talk to a
// session daemon over its unix socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Client talks to one session daemon.
type Client struct {
	http *http.Client
}

// New creates a client for the given socket path.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 30 * time.Second,
		},
	}
}

// Status is the daemon's session state snapshot.
type Status struct {
	Session string `json:"session"`
	State   string `json:"state"`
}

// Task mirrors the daemon's task projection.
type Task struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	ConversationID int64  `json:"conversation_id"`
	Status         string `json:"status"`

	TotalConversations  int64 `json:"total_conversations"`
	SyncedConversations int64 `json:"synced_conversations"`
	SyncedMessages      int64 `json:"synced_messages"`
	NewMessages         int64 `json:"new_messages"`
	DeletedMessages     int64 `json:"deleted_messages"`

	CurrentConversationTitle string `json:"current_conversation_title"`
	ProgressPercent          int    `json:"progress_percent"`
	IsRunning                bool   `json:"is_running"`
	IsFinished               bool   `json:"is_finished"`

	CreatedAt    int64  `json:"created_at"`
	CompletedAt  int64  `json:"completed_at"`
	ErrorMessage string `json:"error_message"`
	Log          string `json:"log"`
}

// Conversation mirrors the daemon's ledger projection.
type Conversation struct {
	ID                int64  `json:"id"`
	Kind              string `json:"kind"`
	Title             string `json:"title"`
	Pinned            bool   `json:"pinned"`
	HighWaterMarkID   int64  `json:"high_water_mark_id"`
	LastSyncedAt      int64  `json:"last_synced_at"`
	TotalMessageCount int64  `json:"total_message_count"`
}

// Message mirrors the daemon's message projection.
type Message struct {
	ConversationID int64  `json:"conversation_id"`
	ID             int64  `json:"id"`
	Text           string `json:"text"`
	Date           int64  `json:"date"`
	SenderName     string `json:"sender_name"`
	Outgoing       bool   `json:"outgoing"`
	MediaKind      string `json:"media_kind"`
	IsDeleted      bool   `json:"is_deleted"`
	DeletedAt      int64  `json:"deleted_at"`
}

// SearchResult is one search hit with its snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.get(ctx, "/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartSync(ctx context.Context, kind string, conversationID int64) (*Task, error) {
	req := map[string]any{"kind": kind}
	if conversationID != 0 {
		req["conversation_id"] = conversationID
	}
	var out Task
	if err := c.post(ctx, "/v1/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	var out []Task
	err := c.get(ctx, fmt.Sprintf("/v1/tasks?limit=%d", limit), &out)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.get(ctx, "/v1/tasks/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.post(ctx, "/v1/tasks/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	err := c.get(ctx, "/v1/conversations", &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID, before, beforeID int64, limit int) ([]Message, error) {
	path := fmt.Sprintf("/v1/conversations/%d/messages?before=%d&before_id=%d&limit=%d",
		conversationID, before, beforeID, limit)
	var out []Message
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, query string, conversationID int64, limit int) ([]SearchResult, error) {
	path := fmt.Sprintf("/v1/search?q=%s&conversation_id=%d&limit=%d",
		url.QueryEscape(query), conversationID, limit)
	var out []SearchResult
	err := c.get(ctx, path, &out)
	return out, err
}

// Export streams a conversation export to w.
func (c *Client) Export(ctx context.Context, conversationID int64, format string, w io.Writer) error {
	path := fmt.Sprintf("/v1/conversations/%d/export?format=%s", conversationID, url.QueryEscape(format))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://telvault"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://telvault"+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://telvault"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Message == "" {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return fmt.Errorf("%s", body.Error.Message)
}
