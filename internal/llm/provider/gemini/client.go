package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tehais/internal/config"
	"tehais/internal/llm/provider"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const providerName = "gemini"

// Harm categories blocked at medium-and-above on every request.
var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHateSpeech,
	genai.HarmCategoryDangerousContent,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryHarassment,
}

type Client struct {
	client *genai.Client
	models map[provider.Profile]*genai.GenerativeModel
}

func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.GeminiAPIKey)}
	if cfg.GeminiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.GeminiEndpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	profiles := provider.ProfilesFromConfig(cfg)
	return &Client{
		client: client,
		models: map[provider.Profile]*genai.GenerativeModel{
			provider.ProfileText: newModel(client, cfg.GeminiModel, profiles.Text),
			provider.ProfileJSON: newModel(client, cfg.GeminiModel, profiles.JSON),
		},
	}, nil
}

// newModel builds a model handle whose configuration is never mutated
// afterwards, so it can be shared by concurrent requests.
func newModel(client *genai.Client, name string, gc provider.GenerationConfig) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	applyGenerationConfig(model, gc)
	return model
}

func applyGenerationConfig(model *genai.GenerativeModel, gc provider.GenerationConfig) {
	model.SetMaxOutputTokens(int32(gc.MaxOutputTokens))
	model.SetTemperature(float32(gc.Temperature))
	model.SetTopP(float32(gc.TopP))
	model.SetTopK(int32(gc.TopK))
	model.ResponseMIMEType = gc.ResponseMIMEType

	model.SafetySettings = make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		model.SafetySettings = append(model.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockMediumAndAbove,
		})
	}
}

func (c *Client) GenerateContent(ctx context.Context, profile provider.Profile, prompt string) (string, error) {
	model, ok := c.models[profile]
	if !ok {
		return "", fmt.Errorf("unknown generation profile: %s", profile)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			// セーフティフィルタでブロックされた出力はエラーではなく空の回答として扱う
			log.Printf("[Gemini] 応答がブロックされました: %v", err)
			return "", nil
		}
		return "", wrapError(err)
	}

	return firstText(resp), nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// firstText returns the first candidate's first part when it is text.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return ""
	}
	if txt, ok := content.Parts[0].(genai.Text); ok {
		return string(txt)
	}
	return ""
}

func wrapError(err error) error {
	wrapped := &provider.APIError{Provider: providerName, Message: err.Error(), Err: err}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		wrapped.Status = gerr.Code
		wrapped.Code = gerr.Code
		if gerr.Message != "" {
			wrapped.Message = gerr.Message
		}
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			wrapped.Status = code
		}
	}

	return wrapped
}
