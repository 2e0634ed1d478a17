// Package automation calls the workflow webhook that suggests chat replies.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wa-gateway/internal/metrics"
)

const maxResponseBytes = 1 << 20

// ErrWebhookStatus is returned for non-2xx webhook responses.
var ErrWebhookStatus = errors.New("automation webhook status")

// Config holds webhook client configuration.
type Config struct {
	URL string
	// Timeout of zero leaves the call bounded only by the caller's context.
	Timeout time.Duration
}

// Client posts inbound messages to the automation webhook.
type Client struct {
	url     string
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Request is the body posted for every inbound message.
type Request struct {
	Text              string `json:"text"`
	SenderID          string `json:"sender_id"`
	SenderDisplayName string `json:"sender_display_name"`
}

// Reply is the webhook's answer. HasOutput is false when the body carried no
// usable output field.
type Reply struct {
	Output    string
	HasOutput bool
}

// New creates a webhook client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	return &Client{
		url:     strings.TrimSpace(cfg.URL),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "automation"),
		metrics: metrics,
	}
}

// Forward makes exactly one POST attempt and parses the reply.
func (c *Client) Forward(ctx context.Context, in Request) (Reply, error) {
	if c.url == "" {
		return Reply{}, errors.New("automation webhook url not configured")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return Reply{}, fmt.Errorf("encode webhook request: %w", err)
	}

	body, err := c.do(ctx, payload)
	if err != nil {
		return Reply{}, err
	}
	return parseReply(body), nil
}

func (c *Client) do(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "wa-gateway/automation-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe("error", start)
		return nil, fmt.Errorf("automation request: %w", err)
	}
	defer res.Body.Close()

	status := strconv.Itoa(res.StatusCode)
	c.observe(status, start)

	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(bodyBytes))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrWebhookStatus, res.StatusCode, snippet)
	}
	return bodyBytes, nil
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.WebhookRequests.WithLabelValues(status).Inc()
	c.metrics.WebhookLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// parseReply accepts {"output": ...} and [{"output": ...}, ...]. A string
// output is used verbatim; any other JSON value is sent as its encoding.
func parseReply(body []byte) Reply {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Reply{}
	}

	var obj map[string]json.RawMessage
	if body[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil || len(list) == 0 {
			return Reply{}
		}
		obj = list[0]
	} else if err := json.Unmarshal(body, &obj); err != nil {
		return Reply{}
	}

	raw, ok := obj["output"]
	if !ok || string(raw) == "null" {
		return Reply{}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}
	if text == "" {
		return Reply{}
	}
	return Reply{Output: text, HasOutput: true}
}
