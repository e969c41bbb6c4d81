package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"tehais/internal/model"
	"tehais/internal/store"

	"github.com/samber/lo"
)

var (
	ErrTooFewUsers = errors.New("at least 2 users are required for pairing")
	ErrEmptyQuery  = errors.New("query is required")
)

// recommendedMatchLimit caps how many ranked candidates become match records.
const recommendedMatchLimit = 10

type CandidateRecommendation struct {
	Candidates     []model.RankedCandidate `json:"candidates"`
	MatchesCreated []*model.Match          `json:"matches_created"`
}

// RecommendCandidates pre-filters users for a post, ranks them and stores
// the top results as AI recommendations.
func (s *Service) RecommendCandidates(ctx context.Context, postID string) (*CandidateRecommendation, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.db.FindCandidatesForPost(ctx, post, "", 0)
	if err != nil {
		return nil, err
	}
	log.Printf("[AI] 投稿 %s の候補者%d件をランキング中", postID, len(candidates))

	ranked, err := s.MatchCandidatesToPost(ctx, post, candidates)
	if err != nil {
		return nil, err
	}

	var records []*model.Match
	for _, r := range ranked {
		if len(records) == recommendedMatchLimit {
			break
		}
		if r.CandidateID == "" {
			continue
		}
		records = append(records, &model.Match{
			PostID:      post.PostID,
			CandidateID: string(r.CandidateID),
			MatchType:   model.MatchAIRecommendation,
			Score:       score(r.Score),
			MatchStatus: model.MatchRecommended,
			Reason:      r.Reason,
		})
	}

	rec := &CandidateRecommendation{Candidates: ranked}
	if len(records) > 0 {
		rec.MatchesCreated, err = s.store.CreateMatches(ctx, records)
		if err != nil {
			return nil, fmt.Errorf("failed to store recommendations: %w", err)
		}
	}
	return rec, nil
}

// SmartSearch finds candidates for a free-text query. AI failures degrade
// to an empty result.
func (s *Service) SmartSearch(ctx context.Context, query, excludeUID string) ([]model.RankedCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	res, err := s.db.SmartQueryUsers(ctx, query, excludeUID, 0)
	if err != nil {
		return nil, err
	}

	ranked, err := s.SmartSearchCandidates(ctx, query, res.Candidates)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[AI] スマート検索エラー（空の結果を返します）: %v", err)
		return []model.RankedCandidate{}, nil
	}
	return ranked, nil
}

// RecommendEvents ranks recent events for uid and records them as AI
// recommendations.
func (s *Service) RecommendEvents(ctx context.Context, uid string) ([]model.RankedEvent, error) {
	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListRecentEvents(ctx, store.QueryLimit)
	if err != nil {
		return nil, err
	}

	ranked, err := s.MatchUserToEvents(ctx, user, events)
	if err != nil {
		return nil, err
	}

	var records []*model.EventMatch
	for _, r := range ranked {
		if r.EventID == "" {
			continue
		}
		records = append(records, &model.EventMatch{
			EventID:   string(r.EventID),
			UserID:    uid,
			MatchType: model.MatchAIRecommendation,
			Score:     score(r.Score),
			Status:    model.EventMatchRecommended,
			AIReason:  r.Reason,
		})
	}
	if len(records) > 0 {
		if _, err := s.store.CreateEventMatches(ctx, records); err != nil {
			return nil, fmt.Errorf("failed to store event recommendations: %w", err)
		}
	}
	return ranked, nil
}

// SearchEvents ranks recent events against a query. uid is optional and
// personalizes the ranking when set.
func (s *Service) SearchEvents(ctx context.Context, query, uid string) ([]model.RankedEvent, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	var user *model.User
	if uid != "" {
		u, err := s.store.GetUser(ctx, uid)
		if err != nil {
			return nil, err
		}
		user = u
	}

	events, err := s.store.ListRecentEvents(ctx, store.QueryLimit)
	if err != nil {
		return nil, err
	}
	return s.SearchEventsByPrompt(ctx, query, user, events)
}

// ApplyTagSuggestion merges suggested tags into the user's profile. Tags the
// user already has are kept as they are; the major is only set when the
// suggestion names one.
func (s *Service) ApplyTagSuggestion(ctx context.Context, uid string, suggestion *model.UserTagSuggestion) (*model.User, error) {
	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}

	tags := store.UserTags{
		MajorID:   user.MajorID,
		CoursesID: lo.Union(user.CoursesID, []int(suggestion.CoursesID)),
		SkillTags: slices.Clone(user.SkillTags),
		DevTags:   lo.Union(user.DevTags, []int(suggestion.DevTags)),
	}
	if suggestion.MajorID != nil {
		major := int(*suggestion.MajorID)
		tags.MajorID = &major
	}
	for _, st := range suggestion.SkillTags {
		id := int(st.TagID)
		if slices.ContainsFunc(tags.SkillTags, func(t model.SkillTag) bool { return t.TagID == id }) {
			continue
		}
		tags.SkillTags = append(tags.SkillTags, model.SkillTag{TagID: id, Confidence: float64(st.Confidence)})
	}

	if err := s.store.UpdateUserTags(ctx, uid, tags); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, uid)
}

// AutoPair loads the users behind uids and splits them into teams.
func (s *Service) AutoPair(ctx context.Context, uids []string, teamSize int, pairContext string) (*model.TeamPairing, error) {
	if len(uids) < 2 {
		return nil, ErrTooFewUsers
	}

	users, err := s.db.UsersByUIDs(ctx, uids)
	if err != nil {
		return nil, err
	}
	if len(users) < 2 {
		return nil, fmt.Errorf("%w: found %d of %d", ErrTooFewUsers, len(users), len(uids))
	}
	return s.AutoPairTeams(ctx, users, teamSize, pairContext)
}

func score(f model.FlexFloat) *float64 {
	v := float64(f)
	return &v
}
