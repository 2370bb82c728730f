package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/resilience"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI("sk-test", srv.URL+"/v1/", "")
}

func TestComplete(t *testing.T) {
	var got map[string]any
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1720000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Relax your shoulders on the breathe-up."}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 9, "total_tokens": 51}
		}`)
	})

	resp, err := client.Complete(context.Background(), Request{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   300,
		JSONMode:    true,
		Messages: []models.ChatMessage{
			{Role: "system", Content: "You are a freediving coach."},
			{Role: "user", Content: "How do I relax?"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Relax your shoulders on the breathe-up." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 51 || resp.Usage.PromptTokens != 42 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}

	if got["model"] != "gpt-4o-mini" {
		t.Errorf("model not sent: %v", got["model"])
	}
	if got["max_tokens"] != float64(300) {
		t.Errorf("max_tokens not sent: %v", got["max_tokens"])
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("json mode not sent: %v", got["response_format"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestCompleteStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		wantType resilience.ErrorType
	}{
		{http.StatusTooManyRequests, resilience.TypeRateLimit},
		{http.StatusUnauthorized, resilience.TypeAuthFailure},
		{http.StatusInternalServerError, resilience.TypeServerError},
		{http.StatusBadRequest, resilience.TypeValidation},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			calls := 0
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"test"}}`)
			})

			_, err := client.Complete(context.Background(), Request{Model: "gpt-4o-mini",
				Messages: []models.ChatMessage{{Role: "user", Content: "hi"}}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := resilience.Classify(err).Type; got != tt.wantType {
				t.Errorf("got %s, want %s (err=%v)", got, tt.wantType, err)
			}
			if calls != 1 {
				t.Errorf("client must not retry on its own, got %d calls", calls)
			}
		})
	}
}

func TestEmbed(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.25, -0.5, 1]}],
			"usage": {"prompt_tokens": 3, "total_tokens": 3}
		}`)
	})

	vec, err := client.Embed(context.Background(), "mouthfill technique")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 0.25 || vec[1] != -0.5 || vec[2] != 1 {
		t.Errorf("unexpected vector %v", vec)
	}
}
