package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tehais/internal/model"

	// registers the pure-Go "sqlite" driver
	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore implements Storage on a single SQLite file. Documents are kept
// as JSON next to the columns the listings filter and sort on.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLiteStore opens or creates the database at path and applies the
// schema. The parent directory must exist; ":memory:" is accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("sqlite: parent directory %q does not exist", dir)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	if path == ":memory:" {
		// プール内の接続ごとに別の空データベースになるため1本に制限
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func scanDoc[T any](row interface{ Scan(dest ...any) error }, kind, id string) (*T, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	var doc T
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}
	return &doc, nil
}

func queryDoc[T any](ctx context.Context, q querier, kind, id, query string) (*T, error) {
	return scanDoc[T](q.QueryRowContext(ctx, query, id), kind, id)
}

// queryDocs runs a query selecting a single doc column, skipping corrupted documents.
func queryDocs[T any](ctx context.Context, q querier, query string, args ...any) ([]*T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc T
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return tx.Commit()
}

// Tags

func (s *SQLiteStore) ListTags(ctx context.Context) ([]model.Tag, error) {
	return s.queryTags(ctx, `SELECT id, name, category_id FROM tags ORDER BY id`)
}

func (s *SQLiteStore) ListTagsByCategory(ctx context.Context, category model.TagCategory) ([]model.Tag, error) {
	return s.queryTags(ctx, `SELECT id, name, category_id FROM tags WHERE category_id = ? ORDER BY id`, category)
}

func (s *SQLiteStore) queryTags(ctx context.Context, query string, args ...any) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) GetTag(ctx context.Context, id int) (*model.Tag, error) {
	var t model.Tag
	err := s.db.QueryRowContext(ctx, `SELECT id, name, category_id FROM tags WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.CategoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag %d: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) PutTags(ctx context.Context, tags []model.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tags {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tags (id, name, category_id) VALUES (?, ?, ?)
				 ON CONFLICT (id) DO UPDATE SET name = excluded.name, category_id = excluded.category_id`,
				t.ID, t.Name, t.CategoryID)
			if err != nil {
				return fmt.Errorf("failed to put tag %d: %w", t.ID, err)
			}
		}
		return nil
	})
}

// Users

const selectUserDoc = `SELECT doc FROM users WHERE uid = ?`

func (s *SQLiteStore) GetUser(ctx context.Context, uid string) (*model.User, error) {
	return queryDoc[model.User](ctx, s.db, "user", uid, selectUserDoc)
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user *model.User) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return writeUserRow(ctx, tx, user)
	})
}

func (s *SQLiteStore) UpdateUserTags(ctx context.Context, uid string, tags UserTags) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := queryDoc[model.User](ctx, tx, "user", uid, selectUserDoc)
		if err != nil {
			return err
		}
		applyUserTags(u, tags)
		return writeUserRow(ctx, tx, u)
	})
}

// writeUserRow replaces the user document and its dev tag rows.
func writeUserRow(ctx context.Context, tx *sql.Tx, user *model.User) error {
	data, err := mustJSON(user)
	if err != nil {
		return err
	}

	var major sql.NullInt64
	if user.MajorID != nil {
		major = sql.NullInt64{Int64: int64(*user.MajorID), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (uid, major_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT (uid) DO UPDATE SET major_id = excluded.major_id, doc = excluded.doc`,
		user.UID, major, data); err != nil {
		return fmt.Errorf("failed to write user %s: %w", user.UID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_dev_tags WHERE uid = ?`, user.UID); err != nil {
		return fmt.Errorf("failed to reset dev tags for %s: %w", user.UID, err)
	}
	for _, tagID := range user.DevTags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_dev_tags (uid, tag_id) VALUES (?, ?)`, user.UID, tagID); err != nil {
			return fmt.Errorf("failed to index dev tag %d for %s: %w", tagID, user.UID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetUsers(ctx context.Context, uids []string) ([]*model.User, error) {
	users := make([]*model.User, 0, len(uids))
	for _, uid := range uids {
		u, err := s.GetUser(ctx, uid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *SQLiteStore) UsersByDevTag(ctx context.Context, tagID, limit int) ([]*model.User, error) {
	users, err := queryDocs[model.User](ctx, s.db,
		`SELECT u.doc FROM user_dev_tags d JOIN users u ON u.uid = d.uid
		 WHERE d.tag_id = ? ORDER BY u.uid LIMIT ?`, tagID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query users by dev tag %d: %w", tagID, err)
	}
	return users, nil
}

func (s *SQLiteStore) UsersByMajor(ctx context.Context, majorID, limit int) ([]*model.User, error) {
	users, err := queryDocs[model.User](ctx, s.db,
		`SELECT doc FROM users WHERE major_id = ? ORDER BY uid LIMIT ?`, majorID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query users by major %d: %w", majorID, err)
	}
	return users, nil
}

func (s *SQLiteStore) SampleUsers(ctx context.Context, limit int) ([]*model.User, error) {
	users, err := queryDocs[model.User](ctx, s.db, `SELECT doc FROM users ORDER BY uid LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to sample users: %w", err)
	}
	return users, nil
}

// Posts

const selectPostDoc = `SELECT doc FROM posts WHERE post_id = ?`

func (s *SQLiteStore) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	return queryDoc[model.Post](ctx, s.db, "post", postID, selectPostDoc)
}

func (s *SQLiteStore) CreatePost(ctx context.Context, post *model.Post) (*model.Post, error) {
	p := preparePost(post, s.now())
	if err := writePostRow(ctx, s.db, p); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return p, nil
}

func writePostRow(ctx context.Context, q querier, p *model.Post) error {
	data, err := mustJSON(p)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO posts (post_id, status, created_at, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (post_id) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		p.PostID, string(p.Status), p.CreatedAt.UnixMilli(), data)
	return err
}

func (s *SQLiteStore) ListOpenPosts(ctx context.Context, limit int) ([]*model.Post, error) {
	posts, err := queryDocs[model.Post](ctx, s.db,
		`SELECT doc FROM posts WHERE status = ? ORDER BY created_at DESC, post_id DESC LIMIT ?`,
		string(model.PostOpen), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list open posts: %w", err)
	}
	return posts, nil
}

func (s *SQLiteStore) ClosePost(ctx context.Context, postID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := queryDoc[model.Post](ctx, tx, "post", postID, selectPostDoc)
		if err != nil {
			return err
		}
		p.Status = model.PostClosed
		if err := writePostRow(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to close post %s: %w", postID, err)
		}
		return nil
	})
}

// Matches

const selectMatchDoc = `SELECT doc FROM matches WHERE match_id = ?`

func (s *SQLiteStore) CreateMatches(ctx context.Context, matches []*model.Match) ([]*model.Match, error) {
	now := s.now()
	created := make([]*model.Match, 0, len(matches))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range matches {
			stored := prepareMatch(m, now)
			if err := writeMatchRow(ctx, tx, stored); err != nil {
				return fmt.Errorf("failed to create match: %w", err)
			}
			created = append(created, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func writeMatchRow(ctx context.Context, q querier, m *model.Match) error {
	data, err := mustJSON(m)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO matches (match_id, post_id, candidate_id, created_at, doc) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (match_id) DO UPDATE SET doc = excluded.doc`,
		m.MatchID, m.PostID, m.CandidateID, m.CreatedAt.UnixMilli(), data)
	return err
}

func (s *SQLiteStore) GetMatch(ctx context.Context, matchID string) (*model.Match, error) {
	return queryDoc[model.Match](ctx, s.db, "match", matchID, selectMatchDoc)
}

func (s *SQLiteStore) ListMatchesByCandidate(ctx context.Context, uid string, limit int) ([]*model.Match, error) {
	matches, err := queryDocs[model.Match](ctx, s.db,
		`SELECT doc FROM matches WHERE candidate_id = ? ORDER BY created_at DESC, match_id DESC LIMIT ?`,
		uid, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for %s: %w", uid, err)
	}
	return matches, nil
}

func (s *SQLiteStore) ListMatchesByPost(ctx context.Context, postID string) ([]*model.Match, error) {
	matches, err := queryDocs[model.Match](ctx, s.db,
		`SELECT doc FROM matches WHERE post_id = ? ORDER BY created_at DESC, match_id DESC`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for post %s: %w", postID, err)
	}
	return matches, nil
}

func (s *SQLiteStore) UpdateMatchStatus(ctx context.Context, matchID string, status model.MatchStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := queryDoc[model.Match](ctx, tx, "match", matchID, selectMatchDoc)
		if err != nil {
			return err
		}
		m.MatchStatus = status
		if err := writeMatchRow(ctx, tx, m); err != nil {
			return fmt.Errorf("failed to update match %s: %w", matchID, err)
		}
		return nil
	})
}

// Events

func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	return queryDoc[model.Event](ctx, s.db, "event", eventID, `SELECT doc FROM events WHERE event_id = ?`)
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, event *model.Event) (*model.Event, error) {
	e := prepareEvent(event, s.now())
	data, err := mustJSON(e)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, event_date, doc) VALUES (?, ?, ?)
		 ON CONFLICT (event_id) DO UPDATE SET event_date = excluded.event_date, doc = excluded.doc`,
		e.EventID, e.EventDate.UnixMilli(), data); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListRecentEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	events, err := queryDocs[model.Event](ctx, s.db,
		`SELECT doc FROM events ORDER BY event_date DESC, event_id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Event matches

func (s *SQLiteStore) CreateEventMatches(ctx context.Context, matches []*model.EventMatch) ([]*model.EventMatch, error) {
	now := s.now()
	created := make([]*model.EventMatch, 0, len(matches))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range matches {
			stored := prepareEventMatch(m, now)
			data, err := mustJSON(stored)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO event_matches (event_match_id, user_id, created_at, doc) VALUES (?, ?, ?, ?)
				 ON CONFLICT (event_match_id) DO UPDATE SET doc = excluded.doc`,
				stored.EventMatchID, stored.UserID, stored.CreatedAt.UnixMilli(), data); err != nil {
				return fmt.Errorf("failed to create event match: %w", err)
			}
			created = append(created, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SQLiteStore) ListEventMatchesByUser(ctx context.Context, uid string) ([]*model.EventMatch, error) {
	matches, err := queryDocs[model.EventMatch](ctx, s.db,
		`SELECT doc FROM event_matches WHERE user_id = ? ORDER BY created_at DESC, event_match_id DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list event matches for %s: %w", uid, err)
	}
	return matches, nil
}

// Chats

const selectChatDoc = `SELECT doc FROM chats WHERE chat_id = ?`

func (s *SQLiteStore) CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error) {
	c := prepareChat(chat, s.now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := writeChatRow(ctx, tx, c); err != nil {
			return err
		}
		for _, uid := range c.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO chat_members (chat_id, uid) VALUES (?, ?)`, c.ChatID, uid); err != nil {
				return fmt.Errorf("failed to add member %s: %w", uid, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

func writeChatRow(ctx context.Context, q querier, c *model.Chat) error {
	data, err := mustJSON(c)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO chats (chat_id, status, last_updated_at, expire_at, doc) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET status = excluded.status,
		   last_updated_at = excluded.last_updated_at, expire_at = excluded.expire_at, doc = excluded.doc`,
		c.ChatID, string(c.Status), c.LastUpdatedAt.UnixMilli(), c.ExpireAt.UnixMilli(), data)
	return err
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	return queryDoc[model.Chat](ctx, s.db, "chat", chatID, selectChatDoc)
}

func (s *SQLiteStore) ListActiveChatsByUser(ctx context.Context, uid string) ([]*model.Chat, error) {
	chats, err := queryDocs[model.Chat](ctx, s.db,
		`SELECT c.doc FROM chat_members m JOIN chats c ON c.chat_id = m.chat_id
		 WHERE m.uid = ? AND c.status = ? ORDER BY c.last_updated_at DESC, c.chat_id DESC`,
		uid, string(model.ChatActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list chats for %s: %w", uid, err)
	}
	return chats, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, chatID string, msg *model.Message) (*model.Message, error) {
	var stored *model.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := queryDoc[model.Chat](ctx, tx, "chat", chatID, selectChatDoc)
		if err != nil {
			return err
		}

		stored = prepareMessage(chatID, msg, s.now())
		data, err := mustJSON(stored)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_messages (message_id, chat_id, sender_id, is_read, doc) VALUES (?, ?, ?, 0, ?)`,
			stored.MessageID, chatID, stored.SenderID, data); err != nil {
			return fmt.Errorf("failed to add message to chat %s: %w", chatID, err)
		}

		touchChat(c, stored)
		return writeChatRow(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*model.Message, error) {
	msgs, err := queryDocs[model.Message](ctx, s.db,
		`SELECT doc FROM chat_messages WHERE chat_id = ? ORDER BY seq LIMIT ?`, chatID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for chat %s: %w", chatID, err)
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return msgs, nil
}

func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, chatID, readerUID string) (int, error) {
	marked := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		unread, err := queryDocs[model.Message](ctx, tx,
			`SELECT doc FROM chat_messages WHERE chat_id = ? AND is_read = 0 AND sender_id <> ? ORDER BY seq`,
			chatID, readerUID)
		if err != nil {
			return err
		}
		for _, m := range unread {
			if !markRead(m, readerUID) {
				continue
			}
			data, err := mustJSON(m)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE chat_messages SET is_read = 1, doc = ? WHERE message_id = ?`, data, m.MessageID); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read in chat %s: %w", chatID, err)
	}
	return marked, nil
}

func (s *SQLiteStore) ExpireChats(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		chats, err := queryDocs[model.Chat](ctx, tx,
			`SELECT doc FROM chats WHERE status = ? AND expire_at <= ?`,
			string(model.ChatActive), now.UnixMilli())
		if err != nil {
			return err
		}
		for _, c := range chats {
			c.Status = model.ChatExpired
			if err := writeChatRow(ctx, tx, c); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire chats: %w", err)
	}
	return expired, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
