package store

import (
	"fmt"
	"log"
	"slices"
	"sort"
	"time"

	"tehais/internal/config"
	"tehais/internal/model"

	"github.com/google/uuid"
)

// New selects the storage backend from configuration.
func New(cfg *config.Config) (Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageRedis:
		s, err := NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		log.Printf("[Store] Redisバックエンドを使用 (prefix: %s)", cfg.RedisPrefix)
		return s, nil
	case config.StorageSQLite:
		path := config.ResolveDataPath(cfg.SQLitePath)
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		log.Printf("[Store] SQLiteバックエンドを使用 (%s)", path)
		return s, nil
	case config.StorageMemory, "":
		log.Printf("[Store] インメモリバックエンドを使用")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}
}

// preparePost fills the fields a new post gets on creation.
func preparePost(post *model.Post, now time.Time) *model.Post {
	p := clonePost(post)
	if p.PostID == "" {
		p.PostID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = model.PostOpen
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return p
}

func prepareMatch(m *model.Match, now time.Time) *model.Match {
	out := *m
	if out.MatchID == "" {
		out.MatchID = uuid.NewString()
	}
	if out.MatchType == "" {
		out.MatchType = model.MatchAIRecommendation
	}
	if out.MatchStatus == "" {
		out.MatchStatus = model.MatchRecommended
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	return &out
}

func prepareEvent(e *model.Event, now time.Time) *model.Event {
	out := cloneEvent(e)
	if out.EventID == "" {
		out.EventID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	return out
}

func prepareEventMatch(m *model.EventMatch, now time.Time) *model.EventMatch {
	out := *m
	if out.EventMatchID == "" {
		out.EventMatchID = uuid.NewString()
	}
	if out.MatchType == "" {
		out.MatchType = model.MatchAIRecommendation
	}
	if out.Status == "" {
		out.Status = model.EventMatchRecommended
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	return &out
}

func prepareChat(c *model.Chat, now time.Time) *model.Chat {
	out := cloneChat(c)
	if out.ChatID == "" {
		out.ChatID = uuid.NewString()
	}
	if out.SourceType == "" {
		out.SourceType = "Post"
	}
	if out.ChatTitle == "" {
		out.ChatTitle = "Temporary Chat"
	}
	if out.Status == "" {
		out.Status = model.ChatActive
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.LastUpdatedAt.IsZero() {
		out.LastUpdatedAt = out.CreatedAt
	}
	if out.ExpireAt.IsZero() {
		out.ExpireAt = out.CreatedAt.Add(model.ChatTTL)
	}
	return out
}

func prepareMessage(chatID string, m *model.Message, now time.Time) *model.Message {
	out := *m
	out.ChatID = chatID
	if out.MessageID == "" {
		out.MessageID = uuid.NewString()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	out.IsRead = false
	return &out
}

// touchChat records msg as the chat's latest activity.
func touchChat(c *model.Chat, msg *model.Message) {
	c.LastMessage = msg.Text
	c.LastUpdatedAt = msg.Timestamp
}

// markRead flags msg as read when it was sent by someone other than reader.
func markRead(msg *model.Message, readerUID string) bool {
	if msg.IsRead || msg.SenderID == readerUID {
		return false
	}
	msg.IsRead = true
	return true
}

func sortChats(chats []*model.Chat) {
	sort.Slice(chats, func(i, j int) bool {
		return newerFirst(chats[i].LastUpdatedAt, chats[j].LastUpdatedAt, chats[i].ChatID, chats[j].ChatID)
	})
}

func cloneChat(c *model.Chat) *model.Chat {
	out := *c
	out.Members = slices.Clone(c.Members)
	return &out
}

func clonePost(post *model.Post) *model.Post {
	p := *post
	p.Requirements = slices.Clone(post.Requirements)
	p.RequiredSkills = slices.Clone(post.RequiredSkills)
	return &p
}

func cloneUser(u *model.User) *model.User {
	out := *u
	if u.MajorID != nil {
		major := *u.MajorID
		out.MajorID = &major
	}
	out.CoursesID = slices.Clone(u.CoursesID)
	out.SkillTags = slices.Clone(u.SkillTags)
	out.DevTags = slices.Clone(u.DevTags)
	return &out
}

func cloneEvent(e *model.Event) *model.Event {
	out := *e
	out.TargetMajors = slices.Clone(e.TargetMajors)
	out.RelatedTags = slices.Clone(e.RelatedTags)
	if e.ActionLinks != nil {
		out.ActionLinks = make(map[string]string, len(e.ActionLinks))
		for k, v := range e.ActionLinks {
			out.ActionLinks[k] = v
		}
	}
	return &out
}

func applyUserTags(u *model.User, tags UserTags) {
	u.MajorID = tags.MajorID
	u.CoursesID = slices.Clone(tags.CoursesID)
	u.SkillTags = slices.Clone(tags.SkillTags)
	u.DevTags = slices.Clone(tags.DevTags)
}

func capLimit[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
