package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"tehais/internal/config"
	"tehais/internal/llm/provider"
)

type reply struct {
	text string
	err  error
}

// scriptedProvider replays replies per profile; the last reply repeats.
type scriptedProvider struct {
	mu      sync.Mutex
	replies map[provider.Profile][]reply
	calls   map[provider.Profile]int
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		replies: make(map[provider.Profile][]reply),
		calls:   make(map[provider.Profile]int),
	}
}

func (p *scriptedProvider) on(profile provider.Profile, replies ...reply) *scriptedProvider {
	p.replies[profile] = replies
	return p
}

func (p *scriptedProvider) GenerateContent(ctx context.Context, profile provider.Profile, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.calls[profile]
	p.calls[profile]++

	replies := p.replies[profile]
	if len(replies) == 0 {
		return "", fmt.Errorf("no reply scripted for %s", profile)
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	return replies[n].text, replies[n].err
}

func (p *scriptedProvider) count(profile provider.Profile) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[profile]
}

type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) PostErrorMessageAsync(ctx context.Context, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

const testJitter = 123 * time.Millisecond

type testClient struct {
	*Client
	mu     sync.Mutex
	delays []time.Duration
	alerts *recordingAlerter
}

func newTestClient(p provider.Provider, cfg *config.Config) *testClient {
	alerts := &recordingAlerter{}
	tc := &testClient{Client: NewClient(p, cfg, alerts), alerts: alerts}
	tc.sleep = func(ctx context.Context, d time.Duration) error {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		tc.delays = append(tc.delays, d)
		return nil
	}
	tc.jitter = func() time.Duration { return testJitter }
	return tc
}

func (tc *testClient) observedDelays() []time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]time.Duration(nil), tc.delays...)
}

var (
	errRateLimited = &provider.APIError{Provider: "test", Status: 429, Message: "rate limited"}
	errInternal    = &provider.APIError{Provider: "test", Status: 500, Message: "internal"}
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(newScriptedProvider(), nil, nil)
	if c.maxRetries != DefaultMaxRetries || c.jsonMaxRetries != DefaultJSONMaxRetries || c.degradeOnFatal {
		t.Errorf("unexpected defaults: %d/%d/%v", c.maxRetries, c.jsonMaxRetries, c.degradeOnFatal)
	}

	c = NewClient(newScriptedProvider(), &config.Config{LLMMaxRetries: -1, LLMJSONMaxRetries: 5, LLMDegradeOnFatal: true}, nil)
	if c.maxRetries != 0 || c.jsonMaxRetries != 5 || !c.degradeOnFatal {
		t.Errorf("config not applied: %d/%d/%v", c.maxRetries, c.jsonMaxRetries, c.degradeOnFatal)
	}
}

func TestGenerateWithRetries_RecoversFromRateLimit(t *testing.T) {
	p := newScriptedProvider().on(provider.ProfileText,
		reply{err: errRateLimited},
		reply{err: errRateLimited},
		reply{text: "ok"},
	)
	c := newTestClient(p, nil)

	got, err := c.GenerateWithRetries(context.Background(), "prompt", 2)
	if err != nil {
		t.Fatalf("GenerateWithRetries() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("GenerateWithRetries() = %q, want %q", got, "ok")
	}

	want := []time.Duration{Backoff(0, testJitter), Backoff(1, testJitter)}
	if delays := c.observedDelays(); !reflect.DeepEqual(delays, want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
	if n := p.count(provider.ProfileText); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestGenerateWithRetries_LogsRateLimit(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	p := newScriptedProvider().on(provider.ProfileText, reply{err: errRateLimited}, reply{text: "ok"})
	c := newTestClient(p, nil)
	if _, err := c.GenerateWithRetries(context.Background(), "prompt", 2); err != nil {
		t.Fatalf("GenerateWithRetries() error = %v", err)
	}

	want := fmt.Sprintf("[LLM] レート制限 (%s)、%v後にリトライ 1/2", StageText, Backoff(0, testJitter))
	if !strings.Contains(buf.String(), want) {
		t.Errorf("log output = %q, want it to contain %q", buf.String(), want)
	}
}

func TestGenerateWithRetries_FailsFastOnNonRateLimit(t *testing.T) {
	p := newScriptedProvider().on(provider.ProfileText, reply{err: errInternal})
	c := newTestClient(p, nil)

	_, err := c.GenerateWithRetries(context.Background(), "prompt", 3)
	if !errors.Is(err, errInternal) {
		t.Fatalf("error = %v, want %v", err, errInternal)
	}
	if delays := c.observedDelays(); len(delays) != 0 {
		t.Errorf("expected no delay, got %v", delays)
	}
	if n := p.count(provider.ProfileText); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestGenerateWithRetries_RateLimitExhausted(t *testing.T) {
	p := newScriptedProvider().on(provider.ProfileText, reply{err: errors.New("HTTP 429: quota")})
	c := newTestClient(p, nil)

	_, err := c.GenerateWithRetries(context.Background(), "prompt", 2)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected the rate limit error, got %v", err)
	}
	if n := p.count(provider.ProfileText); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	if delays := c.observedDelays(); len(delays) != 2 {
		t.Errorf("delays = %v, want 2 entries", delays)
	}
}

func TestGenerate_EmptyResponse(t *testing.T) {
	p := newScriptedProvider().on(provider.ProfileText, reply{text: ""})
	c := newTestClient(p, nil)

	got, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "" {
		t.Errorf("Generate() = %q, want empty", got)
	}
}

func TestGenerate_ContextCanceledDuringBackoff(t *testing.T) {
	p := newScriptedProvider().on(provider.ProfileText, reply{err: errRateLimited})
	c := NewClient(p, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, "prompt")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n := p.count(provider.ProfileText); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestGenerateJSON(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *config.Config
		jsonReply  []reply
		textReply  []reply
		want       any
		wantErr    error
		wantJSON   int
		wantText   int
		wantDelays int
		wantAlerts int
	}{
		{
			name:      "json mode success",
			jsonReply: []reply{{text: "  {\"a\": 1}\n"}},
			want:      map[string]any{"a": float64(1)},
			wantJSON:  1,
		},
		{
			name:      "malformed json falls back to extraction",
			jsonReply: []reply{{text: "{\"a\": 1"}},
			textReply: []reply{{text: "Sure! Here you go: {\"a\":1} Hope that helps."}},
			want:      map[string]any{"a": float64(1)},
			wantJSON:  1,
			wantText:  1,
		},
		{
			name:       "malformed everywhere yields raw_text",
			jsonReply:  []reply{{text: "not json"}},
			textReply:  []reply{{text: "I cannot comply with this request."}},
			want:       map[string]any{"raw_text": "I cannot comply with this request."},
			wantJSON:   1,
			wantText:   1,
			wantAlerts: 1,
		},
		{
			name:       "rate limit then success",
			jsonReply:  []reply{{err: errRateLimited}, {text: "[1]"}},
			want:       []any{float64(1)},
			wantJSON:   2,
			wantDelays: 1,
		},
		{
			name:       "rate limit exhausted falls back",
			cfg:        &config.Config{LLMMaxRetries: 3, LLMJSONMaxRetries: 3},
			jsonReply:  []reply{{err: errRateLimited}},
			textReply:  []reply{{text: "```json\n{\"b\":2}\n```"}},
			want:       map[string]any{"b": float64(2)},
			wantJSON:   4,
			wantText:   1,
			wantDelays: 3,
		},
		{
			name:       "fatal error aborts",
			jsonReply:  []reply{{err: errInternal}},
			wantErr:    errInternal,
			wantJSON:   1,
			wantAlerts: 1,
		},
		{
			name:       "fatal error degrades when configured",
			cfg:        &config.Config{LLMMaxRetries: 3, LLMJSONMaxRetries: 3, LLMDegradeOnFatal: true},
			jsonReply:  []reply{{err: errInternal}},
			textReply:  []reply{{text: "{\"c\":3}"}},
			want:       map[string]any{"c": float64(3)},
			wantJSON:   1,
			wantText:   1,
			wantAlerts: 1,
		},
		{
			name:      "fallback generation error propagates",
			jsonReply: []reply{{text: "oops"}},
			textReply: []reply{{err: errInternal}},
			wantErr:   errInternal,
			wantJSON:  1,
			wantText:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newScriptedProvider().on(provider.ProfileJSON, tt.jsonReply...)
			if tt.textReply != nil {
				p.on(provider.ProfileText, tt.textReply...)
			}
			c := newTestClient(p, tt.cfg)

			got, err := c.GenerateJSON(context.Background(), "prompt")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("GenerateJSON() error = %v", err)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("GenerateJSON() = %#v, want %#v", got, tt.want)
				}
			}

			if n := p.count(provider.ProfileJSON); n != tt.wantJSON {
				t.Errorf("json calls = %d, want %d", n, tt.wantJSON)
			}
			if n := p.count(provider.ProfileText); n != tt.wantText {
				t.Errorf("text calls = %d, want %d", n, tt.wantText)
			}
			if n := len(c.observedDelays()); n != tt.wantDelays {
				t.Errorf("delays = %d, want %d", n, tt.wantDelays)
			}
			if n := c.alerts.count(); n != tt.wantAlerts {
				t.Errorf("alerts = %d, want %d", n, tt.wantAlerts)
			}
		})
	}
}

func TestGenerateJSON_Concurrent(t *testing.T) {
	p := newScriptedProvider().
		on(provider.ProfileJSON, reply{text: "garbage"}).
		on(provider.ProfileText, reply{text: "result: [\"x\"]"})
	c := newTestClient(p, nil)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GenerateJSON(context.Background(), "prompt")
			if err != nil {
				errs <- err
				return
			}
			if !reflect.DeepEqual(got, []any{"x"}) {
				errs <- fmt.Errorf("unexpected result %#v", got)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if n := p.count(provider.ProfileJSON); n != workers {
		t.Errorf("json calls = %d, want %d (no coalescing)", n, workers)
	}
}
