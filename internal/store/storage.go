package store

import (
	"context"
	"errors"
	"time"

	"tehais/internal/model"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// QueryLimit bounds the index queries used for candidate pre-filtering.
const QueryLimit = 100

// UserTags is the tag portion of a user profile, replaced as a whole by UpdateUserTags.
type UserTags struct {
	MajorID   *int
	CoursesID []int
	SkillTags []model.SkillTag
	DevTags   []int
}

// Storage defines the collections the platform reads and writes
type Storage interface {
	// ListTags returns the tag dictionary ordered by id
	ListTags(ctx context.Context) ([]model.Tag, error)
	ListTagsByCategory(ctx context.Context, category model.TagCategory) ([]model.Tag, error)
	GetTag(ctx context.Context, id int) (*model.Tag, error)
	// PutTags inserts or replaces tags by id
	PutTags(ctx context.Context, tags []model.Tag) error

	GetUser(ctx context.Context, uid string) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) error
	UpdateUserTags(ctx context.Context, uid string, tags UserTags) error
	// GetUsers returns the users that exist, in the order requested
	GetUsers(ctx context.Context, uids []string) ([]*model.User, error)
	UsersByDevTag(ctx context.Context, tagID, limit int) ([]*model.User, error)
	UsersByMajor(ctx context.Context, majorID, limit int) ([]*model.User, error)
	// SampleUsers returns the first limit users in uid order
	SampleUsers(ctx context.Context, limit int) ([]*model.User, error)

	GetPost(ctx context.Context, postID string) (*model.Post, error)
	CreatePost(ctx context.Context, post *model.Post) (*model.Post, error)
	// ListOpenPosts returns open posts newest first
	ListOpenPosts(ctx context.Context, limit int) ([]*model.Post, error)
	ClosePost(ctx context.Context, postID string) error

	CreateMatches(ctx context.Context, matches []*model.Match) ([]*model.Match, error)
	GetMatch(ctx context.Context, matchID string) (*model.Match, error)
	// ListMatchesByCandidate returns the candidate's matches newest first
	ListMatchesByCandidate(ctx context.Context, uid string, limit int) ([]*model.Match, error)
	ListMatchesByPost(ctx context.Context, postID string) ([]*model.Match, error)
	UpdateMatchStatus(ctx context.Context, matchID string, status model.MatchStatus) error

	GetEvent(ctx context.Context, eventID string) (*model.Event, error)
	CreateEvent(ctx context.Context, event *model.Event) (*model.Event, error)
	// ListRecentEvents returns events by event date, latest first
	ListRecentEvents(ctx context.Context, limit int) ([]*model.Event, error)

	CreateEventMatches(ctx context.Context, matches []*model.EventMatch) ([]*model.EventMatch, error)
	ListEventMatchesByUser(ctx context.Context, uid string) ([]*model.EventMatch, error)

	CreateChat(ctx context.Context, chat *model.Chat) (*model.Chat, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	// ListActiveChatsByUser returns the user's active chats, most recently updated first
	ListActiveChatsByUser(ctx context.Context, uid string) ([]*model.Chat, error)
	// AddMessage appends a message and moves it into the chat's last message
	AddMessage(ctx context.Context, chatID string, msg *model.Message) (*model.Message, error)
	// ListMessages returns up to limit messages in the order they were added
	ListMessages(ctx context.Context, chatID string, limit int) ([]*model.Message, error)
	// MarkMessagesRead marks unread messages sent by others and returns how many changed
	MarkMessagesRead(ctx context.Context, chatID, readerUID string) (int, error)
	// ExpireChats moves active chats whose expiry is at or before now to Expired
	ExpireChats(ctx context.Context, now time.Time) (int, error)

	// Close cleans up resources
	Close() error
}
