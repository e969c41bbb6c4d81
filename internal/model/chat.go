package model

import "time"

// ChatTTL is how long a temporary chat stays active after it is opened.
const ChatTTL = 48 * time.Hour

type ChatStatus string

const (
	ChatActive  ChatStatus = "Active"
	ChatExpired ChatStatus = "Expired"
)

// Chat is a temporary room opened between a post creator and an accepted candidate.
type Chat struct {
	ChatID        string     `json:"chat_id"`
	Members       []string   `json:"members"`
	SourceType    string     `json:"source_type"`
	SourceID      string     `json:"source_id"`
	MatchID       string     `json:"match_id"`
	ChatTitle     string     `json:"chat_title"`
	LastMessage   string     `json:"last_message"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
	IsNotified    bool       `json:"is_notified"`
	Status        ChatStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpireAt      time.Time  `json:"expire_at"`
}

// HasMember reports whether uid belongs to the chat.
func (c *Chat) HasMember(uid string) bool {
	for _, m := range c.Members {
		if m == uid {
			return true
		}
	}
	return false
}

type Message struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}
