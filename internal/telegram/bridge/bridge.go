// Package bridge implements the remote client over HTTP/JSON against a
// local MTProto bridge sidecar. The sidecar owns the account session
// string and the live connection; this package only translates calls.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/telvault/telvault/internal/telegram"
)

// Client talks to the bridge sidecar. One logical stream of calls at a
// time; callers must not interleave requests for the same session.
type Client struct {
	baseURL string
	session string
	http    *http.Client
	logger  *zap.Logger
}

var _ telegram.Client = (*Client)(nil)

// New creates a bridge client for the given session name.
func New(baseURL, session string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		session: session,
		http: &http.Client{
			// Full-history listings on large conversations are slow.
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

// Connect authenticates the session on the sidecar and returns the
// account identity.
func (c *Client) Connect(ctx context.Context) (*telegram.Account, error) {
	var acct telegram.Account
	if err := c.post(ctx, "/v1/connect", nil, &acct); err != nil {
		return nil, fmt.Errorf("bridge connect: %w", err)
	}
	c.logger.Info("bridge connected",
		zap.Int64("user_id", acct.UserID),
		zap.String("username", acct.Username))
	return &acct, nil
}

// ListConversations fetches the full dialog list in one call.
func (c *Client) ListConversations(ctx context.Context) ([]telegram.RemoteConversation, error) {
	var convs []telegram.RemoteConversation
	if err := c.get(ctx, "/v1/conversations", &convs); err != nil {
		return nil, fmt.Errorf("bridge list conversations: %w", err)
	}
	return convs, nil
}

// ListMessages fetches one ascending page of history after the given id.
func (c *Client) ListMessages(ctx context.Context, conversationID, afterID int64, limit int) ([]telegram.RemoteMessage, error) {
	path := fmt.Sprintf("/v1/conversations/%d/messages?after_id=%d&limit=%d",
		conversationID, afterID, limit)
	var msgs []telegram.RemoteMessage
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, fmt.Errorf("bridge list messages: %w", err)
	}
	return msgs, nil
}

// ListAllMessageIDs fetches the complete current id set for a
// conversation. The sidecar paginates internally.
func (c *Client) ListAllMessageIDs(ctx context.Context, conversationID int64) (map[int64]struct{}, error) {
	path := fmt.Sprintf("/v1/conversations/%d/message_ids", conversationID)
	var ids []int64
	if err := c.get(ctx, path, &ids); err != nil {
		return nil, fmt.Errorf("bridge list message ids: %w", err)
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// DownloadAttachment asks the sidecar to materialize the media payload
// at destPath and returns the bytes written.
func (c *Client) DownloadAttachment(ctx context.Context, ref telegram.MessageRef, destPath string) (int64, error) {
	req := struct {
		ConversationID int64  `json:"conversation_id"`
		MessageID      int64  `json:"message_id"`
		DestPath       string `json:"dest_path"`
	}{ref.ConversationID, ref.MessageID, destPath}

	var resp struct {
		SizeBytes int64 `json:"size_bytes"`
	}
	if err := c.post(ctx, "/v1/download", req, &resp); err != nil {
		return 0, fmt.Errorf("bridge download: %w", err)
	}
	return resp.SizeBytes, nil
}

// Close releases the sidecar session.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.post(ctx, "/v1/disconnect", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
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
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("X-Telvault-Session", c.session)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &telegram.FloodWaitError{Wait: time.Duration(secs) * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("bridge %s %s: %s", req.Method, req.URL.Path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
