package provider

import (
	"context"
	"fmt"

	"tehais/internal/config"
)

// Profile selects one of the fixed generation configurations.
type Profile int

const (
	ProfileText Profile = iota
	ProfileJSON
)

func (p Profile) String() string {
	switch p {
	case ProfileText:
		return "text"
	case ProfileJSON:
		return "json"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

const MIMETypeJSON = "application/json"

type Provider interface {
	// GenerateContent sends prompt as a single user turn and returns the primary text output.
	GenerateContent(ctx context.Context, profile Profile, prompt string) (string, error)
}

type GenerationConfig struct {
	MaxOutputTokens  int
	Temperature      float64
	TopP             float64
	TopK             int
	ResponseMIMEType string
}

// Profiles holds the immutable per-profile configuration built once at startup.
type Profiles struct {
	Text GenerationConfig
	JSON GenerationConfig
}

func (p Profiles) For(profile Profile) GenerationConfig {
	if profile == ProfileJSON {
		return p.JSON
	}
	return p.Text
}

func DefaultProfiles() Profiles {
	return Profiles{
		Text: GenerationConfig{MaxOutputTokens: 2048, Temperature: 0.4, TopP: 0.8, TopK: 40},
		JSON: GenerationConfig{MaxOutputTokens: 4096, Temperature: 0.2, TopP: 0.8, TopK: 40, ResponseMIMEType: MIMETypeJSON},
	}
}

func ProfilesFromConfig(cfg *config.Config) Profiles {
	return Profiles{
		Text: GenerationConfig{
			MaxOutputTokens: cfg.TextMaxTokens,
			Temperature:     cfg.TextTemperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
		},
		JSON: GenerationConfig{
			MaxOutputTokens:  cfg.JSONMaxTokens,
			Temperature:      cfg.JSONTemperature,
			TopP:             cfg.TopP,
			TopK:             cfg.TopK,
			ResponseMIMEType: MIMETypeJSON,
		},
	}
}

// APIError normalizes an upstream failure so callers can classify it
// without knowing which SDK produced it.
type APIError struct {
	Provider string
	Status   int // HTTP status, 0 if unknown
	Code     int // provider error code, 0 if unknown
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
