package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"tehais/internal/config"
	"tehais/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	tagsKey         = "tags"
	usersKey        = "users"
	usersAllKey     = "users:all"
	usersDevTagKey  = "users:devtag"
	usersMajorKey   = "users:major"
	postsKey        = "posts"
	postsOpenKey    = "posts:open"
	matchesKey      = "matches"
	matchesByCand   = "matches:candidate"
	matchesByPost   = "matches:post"
	eventsKey       = "events"
	eventsByDateKey = "events:by_date"
	eventMatchesKey = "event_matches"
	eventMatchesBy  = "event_matches:user"
	chatsKey        = "chats"
	chatsByMember   = "chats:member"
	chatsExpiryKey  = "chats:expiry"
	chatMessagesKey = "chats:messages"
)

// RedisStore implements Storage using Redis. Each collection is a hash of
// id -> JSON document; listings are served from sorted sets and sets.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new RedisStore
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	if prefix == "" {
		prefix = config.DefaultRedisPrefix
	}

	client := redis.NewClient(opts)

	// 接続確認
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (s *RedisStore) key(name string, ids ...string) string {
	k := s.prefix + ":" + name
	for _, id := range ids {
		k += ":" + id
	}
	return k
}

func timeScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func stopIndex(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit - 1)
}

func getDoc[T any](ctx context.Context, c redis.Cmdable, hashKey, id, kind string) (*T, error) {
	data, err := c.HGet(ctx, hashKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	var doc T
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}
	return &doc, nil
}

// getDocs fetches ids in order, skipping missing or corrupted documents.
func getDocs[T any](ctx context.Context, c redis.Cmdable, hashKey string, ids []string) ([]*T, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := c.HMGet(ctx, hashKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", hashKey, err)
	}

	docs := make([]*T, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var doc T
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func mustJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return string(data), nil
}

// Tags

func (s *RedisStore) ListTags(ctx context.Context) ([]model.Tag, error) {
	values, err := s.client.HGetAll(ctx, s.key(tagsKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	tags := make([]model.Tag, 0, len(values))
	for _, data := range values {
		var t model.Tag
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags, nil
}

func (s *RedisStore) ListTagsByCategory(ctx context.Context, category model.TagCategory) ([]model.Tag, error) {
	all, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	return filterTags(all, category), nil
}

func (s *RedisStore) GetTag(ctx context.Context, id int) (*model.Tag, error) {
	return getDoc[model.Tag](ctx, s.client, s.key(tagsKey), strconv.Itoa(id), "tag")
}

func (s *RedisStore) PutTags(ctx context.Context, tags []model.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	values := make(map[string]any, len(tags))
	for _, t := range tags {
		data, err := mustJSON(t)
		if err != nil {
			return err
		}
		values[strconv.Itoa(t.ID)] = data
	}

	if err := s.client.HSet(ctx, s.key(tagsKey), values).Err(); err != nil {
		return fmt.Errorf("failed to store tags: %w", err)
	}
	return nil
}

// Users

func (s *RedisStore) GetUser(ctx context.Context, uid string) (*model.User, error) {
	return getDoc[model.User](ctx, s.client, s.key(usersKey), uid, "user")
}

func (s *RedisStore) UpsertUser(ctx context.Context, user *model.User) error {
	if user.UID == "" {
		return fmt.Errorf("user uid is required")
	}

	old, err := s.GetUser(ctx, user.UID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.writeUser(ctx, old, user)
}

func (s *RedisStore) UpdateUserTags(ctx context.Context, uid string, tags UserTags) error {
	old, err := s.GetUser(ctx, uid)
	if err != nil {
		return err
	}

	updated := cloneUser(old)
	applyUserTags(updated, tags)
	return s.writeUser(ctx, old, updated)
}

// writeUser stores the document and moves its index memberships from old to user.
func (s *RedisStore) writeUser(ctx context.Context, old, user *model.User) error {
	data, err := mustJSON(user)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(usersKey), user.UID, data)
	pipe.ZAdd(ctx, s.key(usersAllKey), redis.Z{Score: 0, Member: user.UID})

	if old != nil {
		for _, id := range old.DevTags {
			pipe.SRem(ctx, s.key(usersDevTagKey, strconv.Itoa(id)), user.UID)
		}
		if old.MajorID != nil {
			pipe.SRem(ctx, s.key(usersMajorKey, strconv.Itoa(*old.MajorID)), user.UID)
		}
	}
	for _, id := range user.DevTags {
		pipe.SAdd(ctx, s.key(usersDevTagKey, strconv.Itoa(id)), user.UID)
	}
	if user.MajorID != nil {
		pipe.SAdd(ctx, s.key(usersMajorKey, strconv.Itoa(*user.MajorID)), user.UID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute redis pipeline: %w", err)
	}
	return nil
}

func (s *RedisStore) GetUsers(ctx context.Context, uids []string) ([]*model.User, error) {
	return getDocs[model.User](ctx, s.client, s.key(usersKey), uids)
}

func (s *RedisStore) UsersByDevTag(ctx context.Context, tagID, limit int) ([]*model.User, error) {
	return s.usersInSet(ctx, s.key(usersDevTagKey, strconv.Itoa(tagID)), limit)
}

func (s *RedisStore) UsersByMajor(ctx context.Context, majorID, limit int) ([]*model.User, error) {
	return s.usersInSet(ctx, s.key(usersMajorKey, strconv.Itoa(majorID)), limit)
}

func (s *RedisStore) usersInSet(ctx context.Context, setKey string, limit int) ([]*model.User, error) {
	uids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", setKey, err)
	}
	sort.Strings(uids)
	return s.GetUsers(ctx, capLimit(uids, limit))
}

func (s *RedisStore) SampleUsers(ctx context.Context, limit int) ([]*model.User, error) {
	uids, err := s.client.ZRange(ctx, s.key(usersAllKey), 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to sample users: %w", err)
	}
	return s.GetUsers(ctx, uids)
}

// Posts

func (s *RedisStore) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	return getDoc[model.Post](ctx, s.client, s.key(postsKey), postID, "post")
}

func (s *RedisStore) CreatePost(ctx context.Context, post *model.Post) (*model.Post, error) {
	p := preparePost(post, s.now())
	data, err := mustJSON(p)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(postsKey), p.PostID, data)
	if p.Status == model.PostOpen {
		pipe.ZAdd(ctx, s.key(postsOpenKey), redis.Z{Score: timeScore(p.CreatedAt), Member: p.PostID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return p, nil
}

func (s *RedisStore) ListOpenPosts(ctx context.Context, limit int) ([]*model.Post, error) {
	ids, err := s.client.ZRevRange(ctx, s.key(postsOpenKey), 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open posts: %w", err)
	}
	return getDocs[model.Post](ctx, s.client, s.key(postsKey), ids)
}

func (s *RedisStore) ClosePost(ctx context.Context, postID string) error {
	p, err := s.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	p.Status = model.PostClosed

	data, err := mustJSON(p)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(postsKey), postID, data)
	pipe.ZRem(ctx, s.key(postsOpenKey), postID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to close post %s: %w", postID, err)
	}
	return nil
}

// Matches

func (s *RedisStore) CreateMatches(ctx context.Context, matches []*model.Match) ([]*model.Match, error) {
	if len(matches) == 0 {
		return []*model.Match{}, nil
	}

	now := s.now()
	created := make([]*model.Match, 0, len(matches))
	pipe := s.client.TxPipeline()
	for _, m := range matches {
		stored := prepareMatch(m, now)
		data, err := mustJSON(stored)
		if err != nil {
			return nil, err
		}
		score := timeScore(stored.CreatedAt)
		pipe.HSet(ctx, s.key(matchesKey), stored.MatchID, data)
		pipe.ZAdd(ctx, s.key(matchesByCand, stored.CandidateID), redis.Z{Score: score, Member: stored.MatchID})
		pipe.ZAdd(ctx, s.key(matchesByPost, stored.PostID), redis.Z{Score: score, Member: stored.MatchID})
		created = append(created, stored)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create matches: %w", err)
	}
	return created, nil
}

func (s *RedisStore) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	return getDoc[model.Match](ctx, s.client, s.key(matchesKey), matchID, "match")
}

func (s *RedisStore) ListMatchesByCandidate(ctx context.Context, uid string, limit int) ([]*model.Match, error) {
	ids, err := s.client.ZRevRange(ctx, s.key(matchesByCand, uid), 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for %s: %w", uid, err)
	}
	return getDocs[model.Match](ctx, s.client, s.key(matchesKey), ids)
}

func (s *RedisStore) ListMatchesByPost(ctx context.Context, postID string) ([]*model.Match, error) {
	ids, err := s.client.ZRevRange(ctx, s.key(matchesByPost, postID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for post %s: %w", postID, err)
	}
	return getDocs[model.Match](ctx, s.client, s.key(matchesKey), ids)
}

func (s *RedisStore) UpdateMatchStatus(ctx context.Context, matchID string, status model.MatchStatus) error {
	m, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	m.MatchStatus = status

	data, err := mustJSON(m)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(matchesKey), matchID, data).Err(); err != nil {
		return fmt.Errorf("failed to update match %s: %w", matchID, err)
	}
	return nil
}

// Events

func (s *RedisStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return getDoc[model.Event](ctx, s.client, s.key(eventsKey), eventID, "event")
}

func (s *RedisStore) CreateEvent(ctx context.Context, event *model.Event) (*model.Event, error) {
	e := prepareEvent(event, s.now())
	data, err := mustJSON(e)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(eventsKey), e.EventID, data)
	pipe.ZAdd(ctx, s.key(eventsByDateKey), redis.Z{Score: timeScore(e.EventDate), Member: e.EventID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return e, nil
}

func (s *RedisStore) ListRecentEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	ids, err := s.client.ZRevRange(ctx, s.key(eventsByDateKey), 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return getDocs[model.Event](ctx, s.client, s.key(eventsKey), ids)
}

// Event matches

func (s *RedisStore) CreateEventMatches(ctx context.Context, matches []*model.EventMatch) ([]*model.EventMatch, error) {
	if len(matches) == 0 {
		return []*model.EventMatch{}, nil
	}

	now := s.now()
	created := make([]*model.EventMatch, 0, len(matches))
	pipe := s.client.TxPipeline()
	for _, m := range matches {
		stored := prepareEventMatch(m, now)
		data, err := mustJSON(stored)
		if err != nil {
			return nil, err
		}
		pipe.HSet(ctx, s.key(eventMatchesKey), stored.EventMatchID, data)
		pipe.ZAdd(ctx, s.key(eventMatchesBy, stored.UserID), redis.Z{Score: timeScore(stored.CreatedAt), Member: stored.EventMatchID})
		created = append(created, stored)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create event matches: %w", err)
	}
	return created, nil
}

func (s *RedisStore) ListEventMatchesByUser(ctx context.Context, uid string) ([]*model.EventMatch, error) {
	ids, err := s.client.ZRevRange(ctx, s.key(eventMatchesBy, uid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list event matches for %s: %w", uid, err)
	}
	return getDocs[model.EventMatch](ctx, s.client, s.key(eventMatchesKey), ids)
}

// Chats

func (s *RedisStore) CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	c := prepareChat(chat, s.now())
	data, err := mustJSON(c)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(chatsKey), c.ChatID, data)
	for _, uid := range c.Members {
		pipe.SAdd(ctx, s.key(chatsByMember, uid), c.ChatID)
	}
	if c.Status == model.ChatActive {
		pipe.ZAdd(ctx, s.key(chatsExpiryKey), redis.Z{Score: timeScore(c.ExpireAt), Member: c.ChatID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func (s *RedisStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	return getDoc[model.Chat](ctx, s.client, s.key(chatsKey), chatID, "chat")
}

func (s *RedisStore) ListActiveChatsByUser(ctx context.Context, uid string) ([]*model.Chat, error) {
	ids, err := s.client.SMembers(ctx, s.key(chatsByMember, uid)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chats for %s: %w", uid, err)
	}
	docs, err := getDocs[model.Chat](ctx, s.client, s.key(chatsKey), ids)
	if err != nil {
		return nil, err
	}

	var chats []*model.Chat
	for _, c := range docs {
		if c.Status == model.ChatActive {
			chats = append(chats, c)
		}
	}
	sortChats(chats)
	return chats, nil
}

func (s *RedisStore) AddMessage(ctx context.Context, chatID string, msg *model.Message) (*model.Message, error) {
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	stored := prepareMessage(chatID, msg, s.now())
	touchChat(c, stored)

	msgData, err := mustJSON(stored)
	if err != nil {
		return nil, err
	}
	chatData, err := mustJSON(c)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(chatMessagesKey, chatID), msgData)
	pipe.HSet(ctx, s.key(chatsKey), chatID, chatData)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to add message to chat %s: %w", chatID, err)
	}
	return stored, nil
}

func (s *RedisStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*model.Message, error) {
	values, err := s.client.LRange(ctx, s.key(chatMessagesKey, chatID), 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for chat %s: %w", chatID, err)
	}

	msgs := make([]*model.Message, 0, len(values))
	for _, v := range values {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (s *RedisStore) MarkMessagesRead(ctx context.Context, chatID, readerUID string) (int, error) {
	listKey := s.key(chatMessagesKey, chatID)
	values, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read messages for chat %s: %w", chatID, err)
	}

	marked := 0
	pipe := s.client.TxPipeline()
	for i, v := range values {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		if !markRead(&m, readerUID) {
			continue
		}
		data, err := mustJSON(&m)
		if err != nil {
			return 0, err
		}
		pipe.LSet(ctx, listKey, int64(i), data)
		marked++
	}

	if marked == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to mark messages read in chat %s: %w", chatID, err)
	}
	return marked, nil
}

func (s *RedisStore) ExpireChats(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.key(chatsExpiryKey), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(timeScore(now), 'f', -1, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find expired chats: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	chats, err := getDocs[model.Chat](ctx, s.client, s.key(chatsKey), ids)
	if err != nil {
		return 0, err
	}

	expired := 0
	pipe := s.client.TxPipeline()
	for _, c := range chats {
		if c.Status != model.ChatActive {
			continue
		}
		c.Status = model.ChatExpired
		data, err := mustJSON(c)
		if err != nil {
			return 0, err
		}
		pipe.HSet(ctx, s.key(chatsKey), c.ChatID, data)
		expired++
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe.ZRem(ctx, s.key(chatsExpiryKey), members...)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to expire chats: %w", err)
	}
	return expired, nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
