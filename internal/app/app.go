// Package app wires the configured provider, storage and services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tehais/internal/ai"
	"tehais/internal/aidb"
	"tehais/internal/config"
	"tehais/internal/llm"
	"tehais/internal/llm/provider"
	"tehais/internal/llm/provider/anthropic"
	"tehais/internal/llm/provider/gemini"
	"tehais/internal/portfolio"
	"tehais/internal/slack"
	"tehais/internal/store"
	"tehais/internal/tagsync"
)

type App struct {
	Config *config.Config
	LLM    *llm.Client
	Store  store.Storage
	DB     *aidb.Manager
	AI     *ai.Service
	Slack  *slack.Client

	tagSync    *tagsync.Syncer
	stopSync   context.CancelFunc
	closeFuncs []func() error
}

// New builds the application. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		Slack:  slack.NewClient(cfg.SlackBotToken, cfg.SlackChannelID, cfg.SlackErrorChannelID),
	}

	p, closeProvider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeProvider != nil {
		a.closeFuncs = append(a.closeFuncs, closeProvider)
	}
	a.LLM = llm.NewClient(p, cfg, a.Slack)

	a.Store, err = store.New(cfg)
	if err != nil {
		a.Close() //nolint:errcheck
		return nil, err
	}
	a.closeFuncs = append(a.closeFuncs, a.Store.Close)

	a.DB = aidb.NewManager(a.Store, cfg.TagCacheTTL)

	syncCtx, stop := context.WithCancel(ctx)
	a.stopSync = stop
	a.tagSync, err = tagsync.Start(syncCtx, config.ResolveDataPath(cfg.TagDictionaryFile), a.Store, a.DB.InvalidateTags)
	if err != nil {
		a.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to import tag dictionary: %w", err)
	}

	a.AI = ai.NewService(a.LLM, a.DB, a.Store)
	if cfg.PortfolioPreview {
		a.AI.WithPortfolioPreview(portfolio.NewFetcher(nil))
	}

	a.logStartupInfo()
	return a, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, func() error, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, nil, errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
		c, err := gemini.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.ProviderAnthropic:
		if cfg.AnthropicAuthToken == "" || cfg.AnthropicModel == "" {
			return nil, nil, errors.New("ANTHROPIC_AUTH_TOKEN and ANTHROPIC_DEFAULT_MODEL are required for the anthropic provider")
		}
		return anthropic.NewClient(cfg), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func (a *App) logStartupInfo() {
	cfg := a.Config
	log.Printf("=== Teh Ais AIバックエンド起動 ===")
	log.Printf("プロバイダー: %s", cfg.LLMProvider)
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		log.Printf("Geminiモデル: %s", cfg.GeminiModel)
	case config.ProviderAnthropic:
		log.Printf("Anthropicモデル: %s", cfg.AnthropicModel)
	}
	log.Printf("リトライ回数: テキスト %d, JSON %d, 致命的エラー時のフォールバック: %t", cfg.LLMMaxRetries, cfg.LLMJSONMaxRetries, cfg.LLMDegradeOnFatal)
	log.Printf("ストレージ: %s", cfg.StorageBackend)
	log.Printf("タグ辞書: %d件インポート済み, キャッシュTTL %v", a.tagSync.Imported(), cfg.TagCacheTTL)
	log.Printf("ポートフォリオプレビュー: %t", cfg.PortfolioPreview)
	log.Printf("Slack通知: %t", a.Slack.Enabled())
}

// Close stops the tag watcher and releases the provider and storage.
func (a *App) Close() error {
	if a.stopSync != nil {
		a.stopSync()
	}

	var errs []error
	for i := len(a.closeFuncs) - 1; i >= 0; i-- {
		if err := a.closeFuncs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeFuncs = nil
	return errors.Join(errs...)
}
