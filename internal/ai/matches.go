package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tehais/internal/model"
)

// ErrForbidden is returned when the acting user does not own the resource.
var ErrForbidden = errors.New("not allowed for this user")

// organicReason is stored when an application comes without a message.
const organicReason = "Applied organically"

// MatchAcceptance is the accepted match and the chat opened for it.
type MatchAcceptance struct {
	Match *model.Match `json:"match"`
	Chat  *model.Chat  `json:"chat"`
}

// ownedPost loads a post and checks that actorUID created it.
func (s *Service) ownedPost(ctx context.Context, postID, actorUID string) (*model.Post, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.CreatorID != actorUID {
		return nil, fmt.Errorf("post %s: %w", postID, ErrForbidden)
	}
	return post, nil
}

// AcceptMatch marks a match as accepted and opens a temporary chat between
// the post creator and the candidate. Only the post creator may accept.
func (s *Service) AcceptMatch(ctx context.Context, matchID, actorUID string) (*MatchAcceptance, error) {
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	post, err := s.ownedPost(ctx, match.PostID, actorUID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateMatchStatus(ctx, matchID, model.MatchAccepted); err != nil {
		return nil, err
	}
	match.MatchStatus = model.MatchAccepted

	chat, err := s.store.CreateChat(ctx, &model.Chat{
		Members:    []string{post.CreatorID, match.CandidateID},
		SourceType: "Post",
		SourceID:   post.PostID,
		MatchID:    match.MatchID,
		ChatTitle:  "Project: " + post.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chat for match %s: %w", matchID, err)
	}
	log.Printf("[AI] マッチ %s を承認しチャット %s を作成しました", matchID, chat.ChatID)

	return &MatchAcceptance{Match: match, Chat: chat}, nil
}

// RejectMatch marks a match as rejected.
func (s *Service) RejectMatch(ctx context.Context, matchID string) (*model.Match, error) {
	if err := s.store.UpdateMatchStatus(ctx, matchID, model.MatchRejected); err != nil {
		return nil, err
	}
	return s.store.GetMatch(ctx, matchID)
}

// ApplyToPost records an organic application from uid to an existing post.
func (s *Service) ApplyToPost(ctx context.Context, postID, uid, message string) (*model.Match, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	reason := message
	if reason == "" {
		reason = organicReason
	}

	created, err := s.store.CreateMatches(ctx, []*model.Match{{
		PostID:      postID,
		CandidateID: uid,
		MatchType:   model.MatchOrganicApplication,
		MatchStatus: model.MatchPending,
		Reason:      reason,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to apply to post %s: %w", postID, err)
	}
	return created[0], nil
}

// MatchesForCandidate lists every match offered to uid, newest first.
func (s *Service) MatchesForCandidate(ctx context.Context, uid string) ([]*model.Match, error) {
	return s.store.ListMatchesByCandidate(ctx, uid, 0)
}

// MatchesForPost lists the matches of an existing post, newest first.
func (s *Service) MatchesForPost(ctx context.Context, postID string) ([]*model.Match, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.store.ListMatchesByPost(ctx, postID)
}

// ClosePost closes a post on behalf of its creator.
func (s *Service) ClosePost(ctx context.Context, postID, actorUID string) (*model.Post, error) {
	if _, err := s.ownedPost(ctx, postID, actorUID); err != nil {
		return nil, err
	}
	if err := s.store.ClosePost(ctx, postID); err != nil {
		return nil, err
	}
	return s.store.GetPost(ctx, postID)
}

// EventMatchesForUser lists the event recommendations stored for uid.
func (s *Service) EventMatchesForUser(ctx context.Context, uid string) ([]*model.EventMatch, error) {
	return s.store.ListEventMatchesByUser(ctx, uid)
}

// ListTags returns the tag dictionary, optionally limited to one category.
func (s *Service) ListTags(ctx context.Context, category *model.TagCategory) ([]model.Tag, error) {
	if category != nil {
		return s.store.ListTagsByCategory(ctx, *category)
	}
	return s.store.ListTags(ctx)
}

func (s *Service) Tag(ctx context.Context, id int) (*model.Tag, error) {
	return s.store.GetTag(ctx, id)
}
