package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"tehais/internal/config"
	"tehais/internal/model"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()), "test_prefix")
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every Storage implementation.
func backends(t *testing.T, fn func(t *testing.T, s Storage)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) { fn(t, setupRedisStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, setupSQLiteStore(t)) })
}

func intPtr(v int) *int { return &v }

func userIDs(users []*model.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.UID
	}
	return ids
}

func TestStorage_Tags(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		tags := []model.Tag{
			{ID: 401, Name: "Backend", CategoryID: model.CategoryDevArea},
			{ID: 101, Name: "Computer Science", CategoryID: model.CategoryMajor},
			{ID: 301, Name: "Python", CategoryID: model.CategorySkill},
		}
		if err := s.PutTags(ctx, tags); err != nil {
			t.Fatalf("PutTags failed: %v", err)
		}

		all, err := s.ListTags(ctx)
		if err != nil {
			t.Fatalf("ListTags failed: %v", err)
		}
		if len(all) != 3 || all[0].ID != 101 || all[2].ID != 401 {
			t.Errorf("ListTags should be ordered by id, got %+v", all)
		}

		skills, err := s.ListTagsByCategory(ctx, model.CategorySkill)
		if err != nil {
			t.Fatalf("ListTagsByCategory failed: %v", err)
		}
		if len(skills) != 1 || skills[0].Name != "Python" {
			t.Errorf("unexpected skill tags: %+v", skills)
		}

		// 再インポートはIDで置き換える
		if err := s.PutTags(ctx, []model.Tag{{ID: 301, Name: "Python 3", CategoryID: model.CategorySkill}}); err != nil {
			t.Fatalf("PutTags failed: %v", err)
		}
		tag, err := s.GetTag(ctx, 301)
		if err != nil {
			t.Fatalf("GetTag failed: %v", err)
		}
		if tag.Name != "Python 3" {
			t.Errorf("GetTag = %+v", tag)
		}

		if _, err := s.GetTag(ctx, 999); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetTag(999) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStorage_Users(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		users := []*model.User{
			{UID: "u3", Name: "Chen", MajorID: intPtr(101), DevTags: []int{401}},
			{UID: "u1", Name: "Aina", MajorID: intPtr(101), DevTags: []int{401, 402}},
			{UID: "u2", Name: "Ben", MajorID: intPtr(102), SkillTags: []model.SkillTag{{TagID: 301, IsConfirmed: true}}},
		}
		for _, u := range users {
			if err := s.UpsertUser(ctx, u); err != nil {
				t.Fatalf("UpsertUser(%s) failed: %v", u.UID, err)
			}
		}

		got, err := s.GetUser(ctx, "u2")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if got.Name != "Ben" || len(got.SkillTags) != 1 || !got.SkillTags[0].IsConfirmed {
			t.Errorf("GetUser = %+v", got)
		}
		if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetUser(missing) error = %v, want ErrNotFound", err)
		}

		byTag, err := s.UsersByDevTag(ctx, 401, QueryLimit)
		if err != nil {
			t.Fatalf("UsersByDevTag failed: %v", err)
		}
		if ids := userIDs(byTag); !reflect.DeepEqual(ids, []string{"u1", "u3"}) {
			t.Errorf("UsersByDevTag(401) = %v", ids)
		}

		byMajor, err := s.UsersByMajor(ctx, 101, 1)
		if err != nil {
			t.Fatalf("UsersByMajor failed: %v", err)
		}
		if ids := userIDs(byMajor); !reflect.DeepEqual(ids, []string{"u1"}) {
			t.Errorf("UsersByMajor(101, 1) = %v", ids)
		}

		sample, err := s.SampleUsers(ctx, 2)
		if err != nil {
			t.Fatalf("SampleUsers failed: %v", err)
		}
		if ids := userIDs(sample); !reflect.DeepEqual(ids, []string{"u1", "u2"}) {
			t.Errorf("SampleUsers(2) = %v", ids)
		}

		many, err := s.GetUsers(ctx, []string{"u3", "missing", "u1"})
		if err != nil {
			t.Fatalf("GetUsers failed: %v", err)
		}
		if ids := userIDs(many); !reflect.DeepEqual(ids, []string{"u3", "u1"}) {
			t.Errorf("GetUsers = %v", ids)
		}
	})
}

func TestStorage_UpdateUserTagsMovesIndexes(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		if err := s.UpsertUser(ctx, &model.User{UID: "u1", Name: "Aina", MajorID: intPtr(101), DevTags: []int{401}}); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}

		err := s.UpdateUserTags(ctx, "u1", UserTags{
			MajorID:   intPtr(102),
			CoursesID: []int{201},
			SkillTags: []model.SkillTag{{TagID: 301, Confidence: 0.9}},
			DevTags:   []int{402},
		})
		if err != nil {
			t.Fatalf("UpdateUserTags failed: %v", err)
		}

		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if u.Name != "Aina" || *u.MajorID != 102 || !reflect.DeepEqual(u.DevTags, []int{402}) || !reflect.DeepEqual(u.CoursesID, []int{201}) {
			t.Errorf("tags not applied: %+v", u)
		}

		old, _ := s.UsersByDevTag(ctx, 401, QueryLimit)
		if len(old) != 0 {
			t.Errorf("user should leave the old dev tag index, got %v", userIDs(old))
		}
		current, _ := s.UsersByDevTag(ctx, 402, QueryLimit)
		if len(current) != 1 {
			t.Errorf("user should join the new dev tag index, got %v", userIDs(current))
		}
		oldMajor, _ := s.UsersByMajor(ctx, 101, QueryLimit)
		if len(oldMajor) != 0 {
			t.Errorf("user should leave the old major index, got %v", userIDs(oldMajor))
		}

		if err := s.UpdateUserTags(ctx, "missing", UserTags{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateUserTags(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStorage_Posts(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		var ids []string
		for i := 0; i < 3; i++ {
			p, err := s.CreatePost(ctx, &model.Post{
				CreatorID:    "u1",
				Title:        fmt.Sprintf("post %d", i),
				Requirements: []int{301},
				CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				t.Fatalf("CreatePost failed: %v", err)
			}
			if p.PostID == "" || p.Status != model.PostOpen {
				t.Errorf("CreatePost should assign an id and open status: %+v", p)
			}
			ids = append(ids, p.PostID)
		}

		if err := s.ClosePost(ctx, ids[2]); err != nil {
			t.Fatalf("ClosePost failed: %v", err)
		}

		open, err := s.ListOpenPosts(ctx, 15)
		if err != nil {
			t.Fatalf("ListOpenPosts failed: %v", err)
		}
		if len(open) != 2 || open[0].PostID != ids[1] || open[1].PostID != ids[0] {
			t.Errorf("ListOpenPosts should return open posts newest first, got %d posts", len(open))
		}

		closed, err := s.GetPost(ctx, ids[2])
		if err != nil {
			t.Fatalf("GetPost failed: %v", err)
		}
		if closed.Status != model.PostClosed {
			t.Errorf("post status = %s, want Closed", closed.Status)
		}

		if err := s.ClosePost(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ClosePost(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStorage_Matches(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		score := 0.9

		created, err := s.CreateMatches(ctx, []*model.Match{
			{PostID: "p1", CandidateID: "u1", Score: &score, Reason: "strong", CreatedAt: base},
			{PostID: "p2", CandidateID: "u1", CreatedAt: base.Add(time.Hour), MatchStatus: model.MatchPending, MatchType: model.MatchOrganicApplication},
			{PostID: "p1", CandidateID: "u2", CreatedAt: base.Add(2 * time.Hour)},
		})
		if err != nil {
			t.Fatalf("CreateMatches failed: %v", err)
		}
		if len(created) != 3 {
			t.Fatalf("CreateMatches returned %d matches", len(created))
		}
		first := created[0]
		if first.MatchID == "" || first.MatchType != model.MatchAIRecommendation || first.MatchStatus != model.MatchRecommended {
			t.Errorf("defaults not applied: %+v", first)
		}
		if created[1].MatchType != model.MatchOrganicApplication || created[1].MatchStatus != model.MatchPending {
			t.Errorf("explicit values overwritten: %+v", created[1])
		}

		byCandidate, err := s.ListMatchesByCandidate(ctx, "u1", 20)
		if err != nil {
			t.Fatalf("ListMatchesByCandidate failed: %v", err)
		}
		if len(byCandidate) != 2 || byCandidate[0].PostID != "p2" {
			t.Errorf("ListMatchesByCandidate should be newest first: %+v", byCandidate)
		}

		byPost, err := s.ListMatchesByPost(ctx, "p1")
		if err != nil {
			t.Fatalf("ListMatchesByPost failed: %v", err)
		}
		if len(byPost) != 2 || byPost[0].CandidateID != "u2" {
			t.Errorf("ListMatchesByPost should be newest first: %+v", byPost)
		}

		if err := s.UpdateMatchStatus(ctx, first.MatchID, model.MatchAccepted); err != nil {
			t.Fatalf("UpdateMatchStatus failed: %v", err)
		}
		m, err := s.GetMatch(ctx, first.MatchID)
		if err != nil {
			t.Fatalf("GetMatch failed: %v", err)
		}
		if m.MatchStatus != model.MatchAccepted || m.Score == nil || *m.Score != 0.9 {
			t.Errorf("GetMatch = %+v", m)
		}

		if err := s.UpdateMatchStatus(ctx, "missing", model.MatchRejected); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateMatchStatus(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStorage_Chats(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		older, err := s.CreateChat(ctx, &model.Chat{
			Members:   []string{"u1", "u2"},
			ChatTitle: "Project: Robot",
			SourceID:  "p1",
			MatchID:   "m1",
			CreatedAt: base,
		})
		if err != nil {
			t.Fatalf("CreateChat failed: %v", err)
		}
		if older.ChatID == "" || older.Status != model.ChatActive || older.SourceType != "Post" {
			t.Errorf("defaults not applied: %+v", older)
		}
		if !older.ExpireAt.Equal(base.Add(model.ChatTTL)) || !older.LastUpdatedAt.Equal(base) {
			t.Errorf("timestamps = updated %v expire %v", older.LastUpdatedAt, older.ExpireAt)
		}

		newer, err := s.CreateChat(ctx, &model.Chat{Members: []string{"u1", "u3"}, CreatedAt: base.Add(time.Hour)})
		if err != nil {
			t.Fatalf("CreateChat failed: %v", err)
		}
		if newer.ChatTitle != "Temporary Chat" {
			t.Errorf("ChatTitle = %q", newer.ChatTitle)
		}

		chats, err := s.ListActiveChatsByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("ListActiveChatsByUser failed: %v", err)
		}
		if len(chats) != 2 || chats[0].ChatID != newer.ChatID {
			t.Errorf("ListActiveChatsByUser should be newest first: %+v", chats)
		}
		if chats, _ := s.ListActiveChatsByUser(ctx, "u2"); len(chats) != 1 || chats[0].ChatID != older.ChatID {
			t.Errorf("ListActiveChatsByUser(u2) = %+v", chats)
		}

		// 古いチャットにメッセージが来ると先頭に移動する
		for i, m := range []*model.Message{
			{SenderID: "u1", Text: "hi", Timestamp: base.Add(2 * time.Hour)},
			{SenderID: "u2", Text: "hello", Timestamp: base.Add(3 * time.Hour)},
			{SenderID: "u2", Text: "ready?", Timestamp: base.Add(4 * time.Hour)},
		} {
			stored, err := s.AddMessage(ctx, older.ChatID, m)
			if err != nil {
				t.Fatalf("AddMessage %d failed: %v", i, err)
			}
			if stored.MessageID == "" || stored.ChatID != older.ChatID || stored.IsRead {
				t.Errorf("AddMessage %d = %+v", i, stored)
			}
		}
		if _, err := s.AddMessage(ctx, "missing", &model.Message{SenderID: "u1", Text: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("AddMessage(missing) error = %v, want ErrNotFound", err)
		}

		c, err := s.GetChat(ctx, older.ChatID)
		if err != nil {
			t.Fatalf("GetChat failed: %v", err)
		}
		if c.LastMessage != "ready?" || !c.LastUpdatedAt.Equal(base.Add(4*time.Hour)) {
			t.Errorf("chat not touched: %+v", c)
		}
		if chats, _ := s.ListActiveChatsByUser(ctx, "u1"); len(chats) != 2 || chats[0].ChatID != older.ChatID {
			t.Errorf("chat with latest message should come first: %+v", chats)
		}
		if _, err := s.GetChat(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetChat(missing) error = %v, want ErrNotFound", err)
		}

		msgs, err := s.ListMessages(ctx, older.ChatID, 2)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Text != "hi" || msgs[1].Text != "hello" {
			t.Errorf("ListMessages should be oldest first and limited: %+v", msgs)
		}
		if msgs, _ := s.ListMessages(ctx, older.ChatID, 0); len(msgs) != 3 {
			t.Errorf("ListMessages(0) returned %d messages", len(msgs))
		}
		if msgs, err := s.ListMessages(ctx, newer.ChatID, 50); err != nil || len(msgs) != 0 {
			t.Errorf("ListMessages(empty chat) = %v, %v", msgs, err)
		}

		marked, err := s.MarkMessagesRead(ctx, older.ChatID, "u1")
		if err != nil {
			t.Fatalf("MarkMessagesRead failed: %v", err)
		}
		if marked != 2 {
			t.Errorf("MarkMessagesRead marked %d, want 2", marked)
		}
		if again, _ := s.MarkMessagesRead(ctx, older.ChatID, "u1"); again != 0 {
			t.Errorf("second MarkMessagesRead marked %d, want 0", again)
		}
		msgs, _ = s.ListMessages(ctx, older.ChatID, 0)
		if len(msgs) != 3 || msgs[0].IsRead || !msgs[1].IsRead || !msgs[2].IsRead {
			t.Errorf("own messages must stay unread: %+v", msgs)
		}

		expired, err := s.ExpireChats(ctx, base.Add(model.ChatTTL))
		if err != nil {
			t.Fatalf("ExpireChats failed: %v", err)
		}
		if expired != 1 {
			t.Errorf("ExpireChats expired %d, want 1", expired)
		}
		if c, _ := s.GetChat(ctx, older.ChatID); c == nil || c.Status != model.ChatExpired {
			t.Errorf("older chat should be expired: %+v", c)
		}
		if chats, _ := s.ListActiveChatsByUser(ctx, "u1"); len(chats) != 1 || chats[0].ChatID != newer.ChatID {
			t.Errorf("expired chats must not be listed: %+v", chats)
		}
		if again, _ := s.ExpireChats(ctx, base.Add(model.ChatTTL)); again != 0 {
			t.Errorf("second ExpireChats expired %d, want 0", again)
		}
	})
}

func TestStorage_Events(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		var ids []string
		for i, title := range []string{"Workshop", "Hackathon", "Career Fair"} {
			e, err := s.CreateEvent(ctx, &model.Event{
				Title:       title,
				EventDate:   base.AddDate(0, 0, i*7),
				RelatedTags: []int{301},
			})
			if err != nil {
				t.Fatalf("CreateEvent failed: %v", err)
			}
			ids = append(ids, e.EventID)
		}

		recent, err := s.ListRecentEvents(ctx, 2)
		if err != nil {
			t.Fatalf("ListRecentEvents failed: %v", err)
		}
		if len(recent) != 2 || recent[0].EventID != ids[2] || recent[1].EventID != ids[1] {
			t.Errorf("ListRecentEvents should order by event date descending")
		}

		e, err := s.GetEvent(ctx, ids[0])
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if e.Title != "Workshop" || !e.EventDate.Equal(base) {
			t.Errorf("GetEvent = %+v", e)
		}

		score := 0.7
		created, err := s.CreateEventMatches(ctx, []*model.EventMatch{
			{EventID: ids[0], UserID: "u1", Score: &score, AIReason: "you like workshops"},
		})
		if err != nil {
			t.Fatalf("CreateEventMatches failed: %v", err)
		}
		if created[0].Status != model.EventMatchRecommended || created[0].MatchType != model.MatchAIRecommendation {
			t.Errorf("event match defaults not applied: %+v", created[0])
		}

		mine, err := s.ListEventMatchesByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("ListEventMatchesByUser failed: %v", err)
		}
		if len(mine) != 1 || mine[0].EventID != ids[0] {
			t.Errorf("ListEventMatchesByUser = %+v", mine)
		}
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u := &model.User{UID: "u1", DevTags: []int{401}}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	u.DevTags[0] = 999

	got, _ := s.GetUser(ctx, "u1")
	got.DevTags = append(got.DevTags, 402)

	again, _ := s.GetUser(ctx, "u1")
	if !reflect.DeepEqual(again.DevTags, []int{401}) {
		t.Errorf("stored user was mutated through a caller's pointer: %v", again.DevTags)
	}
}

func TestNew(t *testing.T) {
	s, err := New(&config.Config{StorageBackend: config.StorageMemory})
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("New(memory) = %T", s)
	}

	if _, err := New(&config.Config{StorageBackend: "firestore"}); err == nil {
		t.Error("New should reject unknown backends")
	}

	mr := miniredis.RunT(t)
	s, err = New(&config.Config{StorageBackend: config.StorageRedis, RedisURL: "redis://" + mr.Addr(), RedisPrefix: "x"})
	if err != nil {
		t.Fatalf("New(redis) failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*RedisStore); !ok {
		t.Errorf("New(redis) = %T", s)
	}

	path := filepath.Join(t.TempDir(), "tehais.db")
	s, err = New(&config.Config{StorageBackend: config.StorageSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("New(sqlite) failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("New(sqlite) = %T", s)
	}
}

func TestNewSQLiteStore_MissingDirectory(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "tehais.db"))
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tehais.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.UpsertUser(ctx, &model.User{UID: "u1", DevTags: []int{401}}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	users, err := s.UsersByDevTag(ctx, 401, 0)
	if err != nil {
		t.Fatalf("UsersByDevTag failed: %v", err)
	}
	if got := userIDs(users); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Errorf("UsersByDevTag after reopen = %v", got)
	}
}
