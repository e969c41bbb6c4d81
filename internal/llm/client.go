package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tehais/internal/config"
	"tehais/internal/llm/provider"
)

const (
	DefaultMaxRetries     = 3
	DefaultJSONMaxRetries = 3
)

// Alerter receives operational alerts. *slack.Client satisfies it.
type Alerter interface {
	PostErrorMessageAsync(ctx context.Context, message string)
}

// Client issues prompts against a Provider and normalizes the responses.
// It holds no per-call state, so one Client serves concurrent callers.
type Client struct {
	provider       provider.Provider
	maxRetries     int
	jsonMaxRetries int
	degradeOnFatal bool
	alerter        Alerter

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewClient creates a client. cfg may be nil, in which case defaults apply.
func NewClient(p provider.Provider, cfg *config.Config, alerter Alerter) *Client {
	c := &Client{
		provider:       p,
		maxRetries:     DefaultMaxRetries,
		jsonMaxRetries: DefaultJSONMaxRetries,
		alerter:        alerter,
		sleep:          sleepContext,
		jitter:         randomJitter,
	}
	if cfg != nil {
		c.maxRetries = max(cfg.LLMMaxRetries, 0)
		c.jsonMaxRetries = max(cfg.LLMJSONMaxRetries, 0)
		c.degradeOnFatal = cfg.LLMDegradeOnFatal
	}
	return c
}

// Generate sends prompt with the text profile and returns the primary text
// output. An empty response is a valid result.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.GenerateWithRetries(ctx, prompt, c.maxRetries)
}

// GenerateWithRetries is Generate with an explicit retry ceiling. Only rate
// limits are retried; any other error is returned on first occurrence.
func (c *Client) GenerateWithRetries(ctx context.Context, prompt string, maxRetries int) (string, error) {
	for attempt := 0; ; attempt++ {
		outcome := classify(c.provider.GenerateContent(ctx, provider.ProfileText, prompt))

		switch NextStep(outcome, attempt, maxRetries, StageText, c.degradeOnFatal) {
		case StepReturn:
			return outcome.Text, nil
		case StepRetry:
			if err := c.backoff(ctx, StageText, attempt, maxRetries); err != nil {
				return "", err
			}
		default:
			return "", outcome.Err
		}
	}
}

// GenerateJSON asks for JSON output directly and falls back to text
// generation plus ExtractJSON. A malformed response never produces an error;
// the worst case is a {"raw_text": ...} wrapper.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (any, error) {
	outcome, err := c.requestJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if outcome.Kind == OutcomeSuccess {
		return outcome.Value, nil
	}

	log.Printf("[LLM] JSONモード失敗 (%s: %v)、テキスト生成にフォールバックします", outcome.Kind, outcome.Err)

	text, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	value := ExtractJSON(text)
	if raw, ok := IsRawText(value); ok {
		c.alert(ctx, fmt.Sprintf("[LLM] unparseable response returned as raw_text (%d chars): %s", len(raw), truncate(raw, 200)))
	}
	return value, nil
}

// requestJSON runs the JSON-profile stage. It returns the outcome that ended
// the stage, or an error when the whole call must abort.
func (c *Client) requestJSON(ctx context.Context, prompt string) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		outcome := classify(c.provider.GenerateContent(ctx, provider.ProfileJSON, prompt))
		if outcome.Kind == OutcomeSuccess {
			var value any
			if err := json.Unmarshal([]byte(strings.TrimSpace(outcome.Text)), &value); err != nil {
				outcome = Outcome{Kind: OutcomeParseFailed, Text: outcome.Text, Err: err}
			} else {
				outcome.Value = value
			}
		}

		step := NextStep(outcome, attempt, c.jsonMaxRetries, StageJSON, c.degradeOnFatal)
		if outcome.Kind == OutcomeFatal {
			c.alert(ctx, fmt.Sprintf("[LLM] JSON generation failed (%s): %v", step, outcome.Err))
		}

		switch step {
		case StepReturn, StepFallback:
			return outcome, nil
		case StepRetry:
			if err := c.backoff(ctx, StageJSON, attempt, c.jsonMaxRetries); err != nil {
				return outcome, err
			}
		default:
			return outcome, outcome.Err
		}
	}
}

func (c *Client) backoff(ctx context.Context, stage Stage, attempt, maxRetries int) error {
	delay := Backoff(attempt, c.jitter())
	log.Printf("[LLM] レート制限 (%s)、%v後にリトライ %d/%d", stage, delay, attempt+1, maxRetries)
	return c.sleep(ctx, delay)
}

func (c *Client) alert(ctx context.Context, message string) {
	if c.alerter == nil {
		return
	}
	c.alerter.PostErrorMessageAsync(context.WithoutCancel(ctx), message)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
