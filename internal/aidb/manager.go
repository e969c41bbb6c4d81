// Package aidb is the query layer between the AI features and storage. It
// caches the tag dictionary and pre-filters users so prompts carry tens of
// candidates instead of the whole user base.
package aidb

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"tehais/internal/cache"
	"tehais/internal/model"
	"tehais/internal/store"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTagCacheTTL  = 5 * time.Minute
	DefaultOverlapLimit = 50
	DefaultSampleSize   = 20
	DefaultEventLimit   = 30

	maxDevTagQueries  = 5
	maxMajorQueries   = 3
	sampleOverfetch   = 5
	insightMatchLimit = 20
	insightEventLimit = 15
	insightPostLimit  = 15
	uidBatchSize      = 30
)

// TagIndex is the cached view of the tag dictionary.
type TagIndex struct {
	All        []model.Tag
	NameByID   map[int]string
	ByCategory map[model.TagCategory][]model.Tag
}

func newTagIndex(tags []model.Tag) *TagIndex {
	idx := &TagIndex{
		All:      tags,
		NameByID: make(map[int]string, len(tags)),
		ByCategory: map[model.TagCategory][]model.Tag{
			model.CategoryMajor:   {},
			model.CategoryCourse:  {},
			model.CategorySkill:   {},
			model.CategoryDevArea: {},
		},
	}
	for _, t := range tags {
		idx.NameByID[t.ID] = t.Name
		if list, ok := idx.ByCategory[t.CategoryID]; ok {
			idx.ByCategory[t.CategoryID] = append(list, t)
		}
	}
	return idx
}

type Manager struct {
	store store.Storage
	tags  *cache.TTL[*TagIndex]
}

func NewManager(s store.Storage, tagTTL time.Duration) *Manager {
	if tagTTL <= 0 {
		tagTTL = DefaultTagCacheTTL
	}

	m := &Manager{store: s}
	m.tags = cache.NewTTL(tagTTL, func(ctx context.Context) (*TagIndex, error) {
		log.Printf("[AIDB] タグキャッシュを更新中")
		tags, err := s.ListTags(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load tags: %w", err)
		}
		log.Printf("[AIDB] タグキャッシュ読み込み完了: %d件", len(tags))
		return newTagIndex(tags), nil
	})
	return m
}

// Tags returns the cached tag dictionary.
func (m *Manager) Tags(ctx context.Context) (*TagIndex, error) {
	return m.tags.Get(ctx)
}

// InvalidateTags forces the next Tags call to reload. Call it after the
// dictionary changes.
func (m *Manager) InvalidateTags() {
	m.tags.Invalidate()
}

// ResolveTagNames maps ids to names; unknown ids resolve to "Unknown(<id>)".
func (m *Manager) ResolveTagNames(ctx context.Context, ids []int) (map[int]string, error) {
	resolved := make(map[int]string, len(ids))
	if len(ids) == 0 {
		return resolved, nil
	}

	idx, err := m.Tags(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if name, ok := idx.NameByID[id]; ok {
			resolved[id] = name
		} else {
			resolved[id] = fmt.Sprintf("Unknown(%d)", id)
		}
	}
	return resolved, nil
}

// FindUsersBySkillOverlap returns up to limit users ranked by how many of
// the required tags appear in their skill and dev tags. Index queries run
// for the leading dev-area and major ids; when they yield too few users the
// result is topped up with a sample.
func (m *Manager) FindUsersBySkillOverlap(ctx context.Context, required []int, excludeUID string, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultOverlapLimit
	}
	if len(required) == 0 {
		return m.SampleUsers(ctx, limit, excludeUID, nil)
	}

	var devIDs, majorIDs []int
	for _, id := range required {
		switch {
		case id >= model.DevAreaTagMin:
			devIDs = append(devIDs, id)
		case id >= model.MajorTagMin && id < model.MajorTagMax:
			majorIDs = append(majorIDs, id)
		}
	}
	devIDs = head(devIDs, maxDevTagQueries)
	majorIDs = head(majorIDs, maxMajorQueries)

	results := make([][]*model.User, len(devIDs)+len(majorIDs))
	var g errgroup.Group
	for i, id := range devIDs {
		g.Go(func() error {
			users, err := m.store.UsersByDevTag(ctx, id, store.QueryLimit)
			if err != nil {
				log.Printf("[AIDB] 開発分野タグ %d の検索エラー: %v", id, err)
				return nil
			}
			results[i] = users
			return nil
		})
	}
	for i, id := range majorIDs {
		g.Go(func() error {
			users, err := m.store.UsersByMajor(ctx, id, store.QueryLimit)
			if err != nil {
				log.Printf("[AIDB] 専攻 %d の検索エラー: %v", id, err)
				return nil
			}
			results[len(devIDs)+i] = users
			return nil
		})
	}
	_ = g.Wait()

	type scored struct {
		user    *model.User
		overlap int
	}
	seen := make(map[string]bool)
	var ranked []scored
	for _, users := range results {
		for _, u := range users {
			if u.UID == excludeUID || seen[u.UID] {
				continue
			}
			seen[u.UID] = true
			if n := overlap(u, required); n > 0 {
				ranked = append(ranked, scored{user: u, overlap: n})
			}
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].overlap > ranked[j].overlap })
	ranked = head(ranked, limit)

	selected := make([]*model.User, 0, len(ranked))
	for _, r := range ranked {
		selected = append(selected, r.user)
	}

	if len(selected) < min(limit, DefaultSampleSize) {
		existing := make(map[string]bool, len(selected))
		for _, u := range selected {
			existing[u.UID] = true
		}
		supplement, err := m.SampleUsers(ctx, DefaultSampleSize, excludeUID, existing)
		if err != nil {
			return nil, err
		}
		selected = append(selected, supplement...)
	}

	return head(selected, limit), nil
}

// overlap counts the required ids present in the user's skill or dev tags.
func overlap(u *model.User, required []int) int {
	have := make(map[int]bool, len(u.SkillTags)+len(u.DevTags))
	for _, id := range u.TagIDs() {
		have[id] = true
	}

	n := 0
	for _, id := range required {
		if have[id] {
			n++
		}
	}
	return n
}

// SampleUsers returns up to limit users other than excludeUID and the uids in exclude.
func (m *Manager) SampleUsers(ctx context.Context, limit int, excludeUID string, exclude map[string]bool) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultSampleSize
	}

	users, err := m.store.SampleUsers(ctx, limit+len(exclude)+sampleOverfetch)
	if err != nil {
		return nil, fmt.Errorf("failed to sample users: %w", err)
	}

	sample := make([]*model.User, 0, limit)
	for _, u := range users {
		if u.UID == excludeUID || exclude[u.UID] {
			continue
		}
		sample = append(sample, u)
		if len(sample) == limit {
			break
		}
	}
	return sample, nil
}

// FindCandidatesForPost pre-filters users for a post by its requirement
// tags. The creator is excluded unless excludeUID says otherwise.
func (m *Manager) FindCandidatesForPost(ctx context.Context, post *model.Post, excludeUID string, limit int) ([]*model.User, error) {
	if excludeUID == "" {
		excludeUID = post.CreatorID
	}
	return m.FindUsersBySkillOverlap(ctx, post.Requirements, excludeUID, limit)
}

type SmartQueryResult struct {
	Candidates []*model.User
	Tags       []model.Tag
}

// SmartQueryUsers maps a free-text query onto tags by keyword and
// pre-filters users with them, falling back to a sample when nothing matches.
func (m *Manager) SmartQueryUsers(ctx context.Context, query, excludeUID string, limit int) (*SmartQueryResult, error) {
	idx, err := m.Tags(ctx)
	if err != nil {
		return nil, err
	}

	matched := MatchTagsByKeyword(query, idx.All)

	var candidates []*model.User
	if len(matched) > 0 {
		candidates, err = m.FindUsersBySkillOverlap(ctx, matched, excludeUID, limit)
	} else {
		candidates, err = m.SampleUsers(ctx, limit, excludeUID, nil)
	}
	if err != nil {
		return nil, err
	}

	return &SmartQueryResult{Candidates: candidates, Tags: idx.All}, nil
}

// MatchTagsByKeyword returns the ids of tags whose name contains, or is
// contained in, the query, or that share a word longer than two characters
// with it.
func MatchTagsByKeyword(query string, tags []model.Tag) []int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	queryWords := strings.Fields(q)

	var ids []int
	for _, t := range tags {
		name := strings.ToLower(t.Name)
		if name == "" {
			continue
		}
		if strings.Contains(q, name) || strings.Contains(name, q) || sharesWord(strings.Fields(name), queryWords) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func sharesWord(tagWords, queryWords []string) bool {
	for _, tw := range tagWords {
		if len(tw) <= 2 {
			continue
		}
		for _, qw := range queryWords {
			if strings.Contains(qw, tw) || strings.Contains(tw, qw) {
				return true
			}
		}
	}
	return false
}

// FindUsersForEvent pre-filters users for an event by its related tags.
func (m *Manager) FindUsersForEvent(ctx context.Context, event *model.Event, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return m.FindUsersBySkillOverlap(ctx, event.RelatedTags, "", limit)
}

type InsightContext struct {
	User      *model.User
	Matches   []*model.Match
	Events    []*model.Event
	OpenPosts []*model.Post
	Tags      []model.Tag
}

// InsightContext loads the dashboard context for uid in parallel. Only a
// missing user or an unavailable tag dictionary is an error; the activity
// lists degrade to empty.
func (m *Manager) InsightContext(ctx context.Context, uid string) (*InsightContext, error) {
	ic := &InsightContext{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		idx, err := m.Tags(gctx)
		if err != nil {
			return err
		}
		ic.Tags = idx.All
		return nil
	})
	g.Go(func() error {
		user, err := m.store.GetUser(gctx, uid)
		if err != nil {
			return err
		}
		ic.User = user
		return nil
	})
	g.Go(func() error {
		matches, err := m.store.ListMatchesByCandidate(gctx, uid, insightMatchLimit)
		if err != nil {
			log.Printf("[AIDB] インサイト用マッチ取得エラー (%s): %v", uid, err)
		}
		ic.Matches = matches
		return nil
	})
	g.Go(func() error {
		events, err := m.store.ListRecentEvents(gctx, insightEventLimit)
		if err != nil {
			log.Printf("[AIDB] インサイト用イベント取得エラー: %v", err)
		}
		ic.Events = events
		return nil
	})
	g.Go(func() error {
		posts, err := m.store.ListOpenPosts(gctx, insightPostLimit)
		if err != nil {
			log.Printf("[AIDB] インサイト用投稿取得エラー: %v", err)
		}
		ic.OpenPosts = posts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ic, nil
}

// UsersByUIDs fetches users in batches; missing uids are skipped.
func (m *Manager) UsersByUIDs(ctx context.Context, uids []string) ([]*model.User, error) {
	users := make([]*model.User, 0, len(uids))
	for _, chunk := range lo.Chunk(uids, uidBatchSize) {
		batch, err := m.store.GetUsers(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch users: %w", err)
		}
		users = append(users, batch...)
	}
	return users, nil
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
