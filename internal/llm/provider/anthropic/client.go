package anthropic

import (
	"context"
	"errors"

	"tehais/internal/config"
	"tehais/internal/llm/provider"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const providerName = "anthropic"

// jsonSystemPrompt stands in for Gemini's response MIME type.
const jsonSystemPrompt = "Respond with a single valid JSON value only. Do not wrap it in markdown code fences and do not add any commentary."

type Client struct {
	client   anthropic.Client
	model    string
	profiles provider.Profiles
}

func NewClient(cfg *config.Config, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.AnthropicAuthToken)}
	if cfg.AnthropicBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.AnthropicBaseURL))
	}
	opts = append(opts, extra...)
	return &Client{
		client:   anthropic.NewClient(opts...),
		model:    cfg.AnthropicModel,
		profiles: provider.ProfilesFromConfig(cfg),
	}
}

func (c *Client) GenerateContent(ctx context.Context, profile provider.Profile, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(profile, prompt))
	if err != nil {
		return "", wrapError(err)
	}
	return extractResponseText(msg), nil
}

// buildParams maps a profile onto a Messages request. Top-p is left unset
// because newer models reject it alongside temperature.
func (c *Client) buildParams(profile provider.Profile, prompt string) anthropic.MessageNewParams {
	gc := c.profiles.For(profile)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(gc.MaxOutputTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(gc.Temperature),
	}
	if gc.TopK > 0 {
		params.TopK = anthropic.Int(int64(gc.TopK))
	}
	if gc.ResponseMIMEType == provider.MIMETypeJSON {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: jsonSystemPrompt},
		}
	}
	return params
}

func extractResponseText(msg *anthropic.Message) string {
	if msg != nil && len(msg.Content) > 0 {
		return msg.Content[0].Text
	}
	return ""
}

func wrapError(err error) error {
	wrapped := &provider.APIError{Provider: providerName, Message: err.Error(), Err: err}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped.Status = apiErr.StatusCode
	}
	return wrapped
}
