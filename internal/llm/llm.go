// Package llm proxies chat completions to an OpenAI-compatible endpoint or
// to Gemini.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wa-gateway/internal/metrics"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrEmptyResponse is returned when the provider produced no text.
var ErrEmptyResponse = errors.New("llm returned no content")

// Message is one chat turn. Role is system, user or assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chatter produces the next assistant turn.
type Chatter interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New returns the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (Chatter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAI(cfg, logger, m), nil
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg, logger, m)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Validate checks a conversation before it is sent upstream.
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	for i, msg := range messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return fmt.Errorf("message %d: content is required", i)
		}
	}
	return nil
}

func observe(m *metrics.Metrics, provider, status string, start time.Time) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, status).Inc()
	m.LLMLatency.WithLabelValues(provider, status).Observe(time.Since(start).Seconds())
}
