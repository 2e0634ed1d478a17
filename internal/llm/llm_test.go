package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wa-gateway/internal/metrics"

	"github.com/google/generative-ai-go/genai"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	m := metrics.NewUnregistered("test")
	client := NewOpenAI(Config{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "test-model"}, discardLogger, m)
	got, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "hi there" {
		t.Fatalf("unexpected reply %q", got)
	}
	if v := testutil.ToFloat64(m.LLMRequests.WithLabelValues(ProviderOpenAI, "200")); v != 1 {
		t.Fatalf("expected one counted request, got %v", v)
	}
}

func TestOpenAIChatErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"upstream error", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, "bad key"},
		{"plain error", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrEmptyResponse.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOpenAI(Config{BaseURL: srv.URL}, discardLogger, nil).Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("expected error for empty conversation")
	}
	if err := Validate([]Message{{Role: "robot", Content: "x"}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if err := Validate([]Message{{Role: "user", Content: "  "}}); err == nil {
		t.Fatal("expected error for blank content")
	}
	if err := Validate([]Message{{Role: "user", Content: "hello"}}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSplitForGemini(t *testing.T) {
	system, history, last, err := splitForGemini([]Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if system != "rules" || last != "q2" || len(history) != 2 {
		t.Fatalf("unexpected split system=%q last=%q history=%d", system, last, len(history))
	}
	if history[1].Role != "model" || history[1].Parts[0].(genai.Text) != "a1" {
		t.Fatalf("expected assistant turn mapped to model, got %+v", history[1])
	}

	if _, _, _, err := splitForGemini([]Message{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}}); err == nil {
		t.Fatal("expected error when the last turn is not from the user")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "mystery"}, discardLogger, nil); err == nil {
		t.Fatal("expected error")
	}
}
