// Package forwarder validates inbound chat messages and relays them to the
// automation webhook, returning the webhook's JSON reply untouched.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"brightchat/internal/domain"
	"brightchat/internal/metrics"
)

// DefaultWebhookURL is the production n8n webhook the widget talks to.
const DefaultWebhookURL = "https://n8n.arkoswearshop.com/webhook/7014a4ca-77e9-4aaf-96c3-d879db448dcf"

// TimestampLayout is the layout used for filled-in timestamps.
const TimestampLayout = domain.TimestampLayout

const maxReplyBytes = 4 << 20

// Config configures a Forwarder.
type Config struct {
	URL     string        // webhook URL (default: DefaultWebhookURL)
	Timeout time.Duration // ignored when Client is set
	Client  *http.Client
	Logger  *slog.Logger
	Now     func() time.Time // clock used for missing timestamps
}

// Forwarder relays validated chat messages to a single webhook.
type Forwarder struct {
	url    string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// WebhookPayload is the body sent upstream. All four fields are always present.
type WebhookPayload struct {
	Message   string        `json:"message"`
	Sender    domain.Sender `json:"sender"`
	Timestamp string        `json:"timestamp"`
	ChatID    string        `json:"chatId"`
}

// New creates a Forwarder.
func New(cfg Config) *Forwarder {
	if cfg.URL == "" {
		cfg.URL = DefaultWebhookURL
	}
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Forwarder{
		url:    cfg.URL,
		client: cfg.Client,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// URL returns the webhook the forwarder posts to.
func (f *Forwarder) URL() string { return f.url }

// BuildPayload builds the upstream body for msg, filling a missing or empty
// timestamp with the current UTC time.
func (f *Forwarder) BuildPayload(msg domain.ChatMessage) WebhookPayload {
	ts := msg.Timestamp
	if ts == "" {
		ts = f.now().UTC().Format(TimestampLayout)
	}
	return WebhookPayload{
		Message:   msg.Message,
		Sender:    msg.Sender,
		Timestamp: ts,
		ChatID:    msg.ChatID,
	}
}

// Forward posts msg to the webhook once and returns its JSON body verbatim.
// Any failure is reported as *UpstreamError; there is no retry.
func (f *Forwarder) Forward(ctx context.Context, msg domain.ChatMessage) (json.RawMessage, error) {
	body, err := json.Marshal(f.BuildPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.InflightRequests.Inc()
	defer metrics.InflightRequests.Dec()
	start := time.Now()
	defer metrics.WebhookLatency.ObserveSince(start)

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.WebhookErrors.Inc()
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		metrics.WebhookErrors.Inc()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookErrors.Inc()
		f.logger.Warn("webhook returned non-success status",
			"status", resp.StatusCode,
			"chat_id", msg.ChatID,
			"body_len", len(data),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	if !json.Valid(data) {
		metrics.WebhookErrors.Inc()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: errors.New("response is not valid JSON")}
	}

	f.logger.Debug("webhook replied",
		"status", resp.StatusCode,
		"chat_id", msg.ChatID,
		"duration", time.Since(start),
	)
	return json.RawMessage(data), nil
}
