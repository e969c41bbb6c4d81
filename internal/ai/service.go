// Package ai implements the platform's AI features on top of the structured
// JSON pipeline. Each feature renders a prompt, requests JSON and decodes it
// into a typed result. A raw_text degradation is a soft failure: object
// results carry it in RawText and list results come back empty.
package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"tehais/internal/aidb"
	"tehais/internal/llm"
	"tehais/internal/model"
	"tehais/internal/portfolio"
	"tehais/internal/store"

	"mvdan.cc/xurls/v2"
)

// Keys under which models wrap list responses.
const (
	candidatesKey = "candidates"
	eventsKey     = "events"
	resultsKey    = "results"
	insightsKey   = "insights"
)

// Generator is the structured-JSON side of llm.Client.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (any, error)
}

// PreviewFetcher loads a preview of a portfolio page.
type PreviewFetcher interface {
	Fetch(ctx context.Context, url string) (*portfolio.Preview, error)
}

type Service struct {
	llm     Generator
	db      *aidb.Manager
	store   store.Storage
	preview PreviewFetcher
	now     func() time.Time
}

func NewService(gen Generator, db *aidb.Manager, s store.Storage) *Service {
	return &Service{llm: gen, db: db, store: s, now: time.Now}
}

// WithPortfolioPreview makes AutoTagUser append a preview of the first URL
// in the description to the prompt.
func (s *Service) WithPortfolioPreview(f PreviewFetcher) *Service {
	s.preview = f
	return s
}

func (s *Service) tags(ctx context.Context) ([]model.Tag, error) {
	idx, err := s.db.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return idx.All, nil
}

func (s *Service) tagNames(ctx context.Context) (llm.TagNames, error) {
	idx, err := s.db.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return llm.TagNames(idx.NameByID), nil
}

// AutoTagUser suggests profile tags for a free-text self description.
func (s *Service) AutoTagUser(ctx context.Context, text string) (*model.UserTagSuggestion, error) {
	tags, err := s.tags(ctx)
	if err != nil {
		return nil, err
	}

	url := xurls.Strict().FindString(text)
	promptText := text
	if s.preview != nil && url != "" {
		if p, err := s.preview.Fetch(ctx, url); err != nil {
			log.Printf("[AI] ポートフォリオのプレビュー取得失敗 (%s): %v", url, err)
		} else {
			promptText += portfolio.Format(p)
		}
	}

	suggestion, err := requestObject[model.UserTagSuggestion](ctx, s.llm, "auto-tag user", llm.BuildAutoTagUserPrompt(promptText, tags))
	if err != nil {
		return nil, err
	}
	if suggestion.PortfolioURL == "" {
		suggestion.PortfolioURL = url
	}
	return suggestion, nil
}

// AutoTagPost suggests requirement tags and a type for a team post.
func (s *Service) AutoTagPost(ctx context.Context, title, description, postType string) (*model.PostTagSuggestion, error) {
	tags, err := s.tags(ctx)
	if err != nil {
		return nil, err
	}
	return requestObject[model.PostTagSuggestion](ctx, s.llm, "auto-tag post", llm.BuildAutoTagPostPrompt(title, description, postType, tags))
}

// MatchCandidatesToPost ranks candidates against a post's requirements.
func (s *Service) MatchCandidatesToPost(ctx context.Context, post *model.Post, candidates []*model.User) ([]model.RankedCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	names, err := s.tagNames(ctx)
	if err != nil {
		return nil, err
	}
	return requestList[model.RankedCandidate](ctx, s.llm, "match candidates", llm.BuildMatchCandidatesPrompt(post, candidates, names), candidatesKey, resultsKey)
}

// MatchUserToEvents ranks events by fit for a user.
func (s *Service) MatchUserToEvents(ctx context.Context, user *model.User, events []*model.Event) ([]model.RankedEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	names, err := s.tagNames(ctx)
	if err != nil {
		return nil, err
	}
	return requestList[model.RankedEvent](ctx, s.llm, "match events", llm.BuildMatchEventsPrompt(user, events, names), eventsKey, resultsKey)
}

// SmartSearchCandidates ranks candidates against a natural-language query.
func (s *Service) SmartSearchCandidates(ctx context.Context, query string, candidates []*model.User) ([]model.RankedCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	names, err := s.tagNames(ctx)
	if err != nil {
		return nil, err
	}
	return requestList[model.RankedCandidate](ctx, s.llm, "smart search", llm.BuildSmartSearchPrompt(query, candidates, names), candidatesKey, resultsKey)
}

// CreateTeamFromDescription drafts a team post from a description.
func (s *Service) CreateTeamFromDescription(ctx context.Context, description string) (*model.TeamDraft, error) {
	tags, err := s.tags(ctx)
	if err != nil {
		return nil, err
	}
	return requestObject[model.TeamDraft](ctx, s.llm, "create team", llm.BuildCreateTeamPrompt(description, tags))
}

// GenerateInsights produces dashboard cards for uid.
func (s *Service) GenerateInsights(ctx context.Context, uid string) ([]model.Insight, error) {
	ic, err := s.db.InsightContext(ctx, uid)
	if err != nil {
		return nil, err
	}

	prompt := llm.BuildInsightsPrompt(llm.InsightInput{
		User:      ic.User,
		Matches:   ic.Matches,
		Events:    ic.Events,
		OpenPosts: ic.OpenPosts,
		Tags:      ic.Tags,
	})
	return requestList[model.Insight](ctx, s.llm, "insights", prompt, insightsKey, resultsKey)
}

// SearchEventsByPrompt ranks events against a natural-language query.
// A nil user is treated as one without skills.
func (s *Service) SearchEventsByPrompt(ctx context.Context, query string, user *model.User, events []*model.Event) ([]model.RankedEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if user == nil {
		user = &model.User{}
	}
	names, err := s.tagNames(ctx)
	if err != nil {
		return nil, err
	}
	return requestList[model.RankedEvent](ctx, s.llm, "search events", llm.BuildSearchEventsPrompt(query, user, events, names), eventsKey, resultsKey)
}

// AutoPairTeams splits users into balanced teams.
func (s *Service) AutoPairTeams(ctx context.Context, users []*model.User, teamSize int, pairContext string) (*model.TeamPairing, error) {
	names, err := s.tagNames(ctx)
	if err != nil {
		return nil, err
	}
	return requestObject[model.TeamPairing](ctx, s.llm, "auto pair", llm.BuildAutoPairPrompt(users, teamSize, pairContext, names))
}

func requestObject[T any](ctx context.Context, gen Generator, feature, prompt string) (*T, error) {
	v, err := gen.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", feature, err)
	}
	if _, ok := llm.IsRawText(v); ok {
		log.Printf("[AI] %s: 構造化されていないテキストが返されました", feature)
	}

	var out T
	if err := llm.Decode(v, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", feature, err)
	}
	return &out, nil
}

func requestList[T any](ctx context.Context, gen Generator, feature, prompt string, keys ...string) ([]T, error) {
	v, err := gen.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", feature, err)
	}
	if _, ok := llm.IsRawText(v); ok {
		log.Printf("[AI] %s: 構造化されていないテキストが返されました（結果なし）", feature)
		return nil, nil
	}

	var out []T
	if err := llm.DecodeList(v, &out, keys...); err != nil {
		return nil, fmt.Errorf("%s: %w", feature, err)
	}
	return out, nil
}
