package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tehais/internal/config"
	"tehais/internal/llm/provider"

	"github.com/anthropics/anthropic-sdk-go/option"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		AnthropicAuthToken: "test-token",
		AnthropicBaseURL:   baseURL,
		AnthropicModel:     "claude-test",
		TextMaxTokens:      2048,
		JSONMaxTokens:      4096,
		TextTemperature:    0.4,
		JSONTemperature:    0.2,
		TopP:               0.8,
		TopK:               40,
	}
}

func TestBuildParams(t *testing.T) {
	c := NewClient(testConfig(""))

	text := c.buildParams(provider.ProfileText, "hello")
	if text.MaxTokens != 2048 {
		t.Errorf("text MaxTokens = %d, want 2048", text.MaxTokens)
	}
	if text.Temperature.Value != 0.4 {
		t.Errorf("text Temperature = %v, want 0.4", text.Temperature.Value)
	}
	if text.TopK.Value != 40 {
		t.Errorf("TopK = %v, want 40", text.TopK.Value)
	}
	if len(text.System) != 0 {
		t.Errorf("text profile should not carry a system prompt")
	}
	if len(text.Messages) != 1 {
		t.Fatalf("expected a single user message, got %d", len(text.Messages))
	}

	js := c.buildParams(provider.ProfileJSON, "hello")
	if js.MaxTokens != 4096 || js.Temperature.Value != 0.2 {
		t.Errorf("json params = %d/%v", js.MaxTokens, js.Temperature.Value)
	}
	if len(js.System) != 1 || !strings.Contains(js.System[0].Text, "JSON") {
		t.Errorf("json profile should carry the JSON system prompt: %+v", js.System)
	}
	if string(js.Model) != "claude-test" {
		t.Errorf("Model = %q", js.Model)
	}
}

func TestGenerateContent(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "ok"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL), option.WithMaxRetries(0))

	got, err := c.GenerateContent(context.Background(), provider.ProfileText, "say ok")
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("GenerateContent() = %q, want %q", got, "ok")
	}
	if !strings.Contains(gotBody, "say ok") {
		t.Errorf("request body does not contain the prompt: %s", gotBody)
	}
}

func TestGenerateContent_RateLimited(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	c := NewClient(testConfig(server.URL), option.WithMaxRetries(0))

	_, err := c.GenerateContent(context.Background(), provider.ProfileJSON, "hi")
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *provider.APIError, got %T", err)
	}
	if apiErr.Provider != "anthropic" || apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
	if calls != 1 {
		t.Errorf("SDK retries should be disabled, got %d calls", calls)
	}
}
