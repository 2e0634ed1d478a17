package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wa-gateway/internal/metrics"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini uses the Generative AI SDK.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "gemini-1.5-flash"
	}
	return &Gemini{
		client:  client,
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "llm", "provider", ProviderGemini),
		metrics: m,
	}, nil
}

// Chat replays the history into a chat session and sends the last user turn.
func (g *Gemini) Chat(ctx context.Context, messages []Message) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	system, history, last, err := splitForGemini(messages)
	if err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	cs := model.StartChat()
	cs.History = history

	start := time.Now()
	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		observe(g.metrics, ProviderGemini, "error", start)
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	observe(g.metrics, ProviderGemini, "ok", start)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}

// Close releases the SDK client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// splitForGemini folds system turns into one instruction and maps the rest
// onto Gemini's user/model roles. The final turn must come from the user.
func splitForGemini(messages []Message) (string, []*genai.Content, string, error) {
	var (
		system  []string
		history []*genai.Content
	)
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return "", nil, "", errors.New("last message must come from the user")
	}
	lastContent := history[len(history)-1]
	last := string(lastContent.Parts[0].(genai.Text))
	return strings.Join(system, "\n\n"), history[:len(history)-1], last, nil
}
