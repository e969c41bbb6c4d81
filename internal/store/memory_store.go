package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"tehais/internal/model"
)

// MemoryStore is an in-memory implementation of Storage for tests and
// single-process runs
type MemoryStore struct {
	mu           sync.RWMutex
	tags         map[int]model.Tag
	users        map[string]*model.User
	posts        map[string]*model.Post
	matches      map[string]*model.Match
	events       map[string]*model.Event
	eventMatches map[string]*model.EventMatch
	chats        map[string]*model.Chat
	messages     map[string][]*model.Message
	now          func() time.Time
}

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tags:         make(map[int]model.Tag),
		users:        make(map[string]*model.User),
		posts:        make(map[string]*model.Post),
		matches:      make(map[string]*model.Match),
		events:       make(map[string]*model.Event),
		eventMatches: make(map[string]*model.EventMatch),
		chats:        make(map[string]*model.Chat),
		messages:     make(map[string][]*model.Message),
		now:          time.Now,
	}
}

func (s *MemoryStore) ListTags(ctx context.Context) ([]model.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags := make([]model.Tag, 0, len(s.tags))
	for _, t := range s.tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags, nil
}

func (s *MemoryStore) ListTagsByCategory(ctx context.Context, category model.TagCategory) ([]model.Tag, error) {
	all, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return filterTags(all, category), nil
}

func (s *MemoryStore) GetTag(ctx context.Context, id int) (*model.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tags[id]
	if !ok {
		return nil, fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	return &t, nil
}

func (s *MemoryStore) PutTags(ctx context.Context, tags []model.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tags {
		s.tags[t.ID] = t
	}
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, uid string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) UpsertUser(ctx context.Context, user *model.User) error {
	if user.UID == "" {
		return fmt.Errorf("user uid is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.UID] = cloneUser(user)
	return nil
}

func (s *MemoryStore) UpdateUserTags(ctx context.Context, uid string, tags UserTags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[uid]
	if !ok {
		return fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	applyUserTags(u, tags)
	return nil
}

func (s *MemoryStore) GetUsers(ctx context.Context, uids []string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*model.User, 0, len(uids))
	for _, uid := range uids {
		if u, ok := s.users[uid]; ok {
			users = append(users, cloneUser(u))
		}
	}
	return users, nil
}

func (s *MemoryStore) UsersByDevTag(ctx context.Context, tagID, limit int) ([]*model.User, error) {
	return s.usersWhere(limit, func(u *model.User) bool {
		return slices.Contains(u.DevTags, tagID)
	}), nil
}

func (s *MemoryStore) UsersByMajor(ctx context.Context, majorID, limit int) ([]*model.User, error) {
	return s.usersWhere(limit, func(u *model.User) bool {
		return u.MajorID != nil && *u.MajorID == majorID
	}), nil
}

func (s *MemoryStore) SampleUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return s.usersWhere(limit, func(*model.User) bool { return true }), nil
}

// usersWhere scans users in uid order, the order Redis index reads return.
func (s *MemoryStore) usersWhere(limit int, match func(*model.User) bool) []*model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uids := make([]string, 0, len(s.users))
	for uid := range s.users {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	var users []*model.User
	for _, uid := range uids {
		if limit > 0 && len(users) >= limit {
			break
		}
		if u := s.users[uid]; match(u) {
			users = append(users, cloneUser(u))
		}
	}
	return users
}

func (s *MemoryStore) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[postID]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	return clonePost(p), nil
}

func (s *MemoryStore) CreatePost(ctx context.Context, post *model.Post) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := preparePost(post, s.now())
	s.posts[p.PostID] = p
	return clonePost(p), nil
}

func (s *MemoryStore) ListOpenPosts(ctx context.Context, limit int) ([]*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var posts []*model.Post
	for _, p := range s.posts {
		if p.Status == model.PostOpen {
			posts = append(posts, clonePost(p))
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		return newerFirst(posts[i].CreatedAt, posts[j].CreatedAt, posts[i].PostID, posts[j].PostID)
	})
	return capLimit(posts, limit), nil
}

func (s *MemoryStore) ClosePost(ctx context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return fmt.Errorf("post %s: %w", postID, ErrNotFound)
	}
	p.Status = model.PostClosed
	return nil
}

func (s *MemoryStore) CreateMatches(ctx context.Context, matches []*model.Match) ([]*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := make([]*model.Match, 0, len(matches))
	for _, m := range matches {
		stored := prepareMatch(m, now)
		s.matches[stored.MatchID] = stored
		copied := *stored
		created = append(created, &copied)
	}
	return created, nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) ListMatchesByCandidate(ctx context.Context, uid string, limit int) ([]*model.Match, error) {
	matches := s.matchesWhere(func(m *model.Match) bool { return m.CandidateID == uid })
	return capLimit(matches, limit), nil
}

func (s *MemoryStore) ListMatchesByPost(ctx context.Context, postID string) ([]*model.Match, error) {
	return s.matchesWhere(func(m *model.Match) bool { return m.PostID == postID }), nil
}

func (s *MemoryStore) matchesWhere(match func(*model.Match) bool) []*model.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*model.Match
	for _, m := range s.matches {
		if match(m) {
			copied := *m
			matches = append(matches, &copied)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return newerFirst(matches[i].CreatedAt, matches[j].CreatedAt, matches[i].MatchID, matches[j].MatchID)
	})
	return matches
}

func (s *MemoryStore) UpdateMatchStatus(ctx context.Context, matchID string, status model.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	m.MatchStatus = status
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return cloneEvent(e), nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, event *model.Event) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := prepareEvent(event, s.now())
	s.events[e.EventID] = e
	return cloneEvent(e), nil
}

func (s *MemoryStore) ListRecentEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, cloneEvent(e))
	}
	sort.Slice(events, func(i, j int) bool {
		return newerFirst(events[i].EventDate, events[j].EventDate, events[i].EventID, events[j].EventID)
	})
	return capLimit(events, limit), nil
}

func (s *MemoryStore) CreateEventMatches(ctx context.Context, matches []*model.EventMatch) ([]*model.EventMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := make([]*model.EventMatch, 0, len(matches))
	for _, m := range matches {
		stored := prepareEventMatch(m, now)
		s.eventMatches[stored.EventMatchID] = stored
		copied := *stored
		created = append(created, &copied)
	}
	return created, nil
}

func (s *MemoryStore) ListEventMatchesByUser(ctx context.Context, uid string) ([]*model.EventMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*model.EventMatch
	for _, m := range s.eventMatches {
		if m.UserID == uid {
			copied := *m
			matches = append(matches, &copied)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return newerFirst(matches[i].CreatedAt, matches[j].CreatedAt, matches[i].EventMatchID, matches[j].EventMatchID)
	})
	return matches, nil
}

func (s *MemoryStore) CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := prepareChat(chat, s.now())
	s.chats[c.ChatID] = c
	return cloneChat(c), nil
}

func (s *MemoryStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return cloneChat(c), nil
}

func (s *MemoryStore) ListActiveChatsByUser(ctx context.Context, uid string) ([]*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chats []*model.Chat
	for _, c := range s.chats {
		if c.Status == model.ChatActive && c.HasMember(uid) {
			chats = append(chats, cloneChat(c))
		}
	}
	sortChats(chats)
	return chats, nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, chatID string, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	stored := prepareMessage(chatID, msg, s.now())
	s.messages[chatID] = append(s.messages[chatID], stored)
	touchChat(c, stored)

	copied := *stored
	return &copied, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := capLimit(s.messages[chatID], limit)
	out := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) MarkMessagesRead(ctx context.Context, chatID, readerUID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, m := range s.messages[chatID] {
		if markRead(m, readerUID) {
			marked++
		}
	}
	return marked, nil
}

func (s *MemoryStore) ExpireChats(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, c := range s.chats {
		if c.Status == model.ChatActive && !c.ExpireAt.After(now) {
			c.Status = model.ChatExpired
			expired++
		}
	}
	return expired, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func filterTags(tags []model.Tag, category model.TagCategory) []model.Tag {
	filtered := make([]model.Tag, 0)
	for _, t := range tags {
		if t.CategoryID == category {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// newerFirst orders by time descending, then id descending for a stable order
// that matches the Redis sorted set reverse range.
func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return strings.Compare(idA, idB) > 0
}
