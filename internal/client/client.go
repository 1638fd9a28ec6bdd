// Package client talks to a BrightChat server's /api/chat endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brightchat/internal/domain"
)

const (
	chatPath       = "/api/chat"
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 4 << 20
)

// ReplyFields are checked in order by Text; the first non-empty string wins.
var ReplyFields = []string{"response", "message", "reply"}

// WidgetReplyFields is the strict lookup, without "reply".
var WidgetReplyFields = []string{"response", "message"}

// Reply is the decoded JSON object returned by the webhook.
type Reply map[string]any

// Text returns the agent's reply text, if the webhook sent one.
func (r Reply) Text() (string, bool) {
	return r.TextFrom(ReplyFields...)
}

// TextFrom returns the first non-empty string among fields.
func (r Reply) TextFrom(fields ...string) (string, bool) {
	for _, field := range fields {
		if s, ok := r[field].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client posts chat messages to a BrightChat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A nil httpClient gets a 60s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// BaseURL returns the server the client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

// Send posts msg and decodes the reply. A JSON reply that is not an object
// yields a nil Reply, which has no text.
func (c *Client) Send(ctx context.Context, msg domain.ChatMessage) (Reply, error) {
	raw, err := c.SendRaw(ctx, msg)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, nil
	}
	return Reply(obj), nil
}

// SendRaw posts msg and returns the response body as received.
func (c *Client) SendRaw(ctx context.Context, msg domain.ChatMessage) (json.RawMessage, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", chatPath, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &errBody)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errBody.Message}
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return json.RawMessage(data), nil
}
