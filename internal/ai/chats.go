package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"tehais/internal/model"
)

var (
	ErrChatInactive = errors.New("chat is not active")
	ErrEmptyMessage = errors.New("message text is required")
)

const defaultMessageLimit = 50

// Chats lists the active chats uid belongs to, most recently updated first.
func (s *Service) Chats(ctx context.Context, uid string) ([]*model.Chat, error) {
	return s.store.ListActiveChatsByUser(ctx, uid)
}

// Chat loads a chat and checks that uid is one of its members.
func (s *Service) Chat(ctx context.Context, chatID, uid string) (*model.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(uid) {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrForbidden)
	}
	return chat, nil
}

// Messages returns the oldest limit messages of a chat. limit <= 0 uses the default of 50.
func (s *Service) Messages(ctx context.Context, chatID, uid string, limit int) ([]*model.Message, error) {
	if _, err := s.Chat(ctx, chatID, uid); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	return s.store.ListMessages(ctx, chatID, limit)
}

// SendMessage posts text from uid into an active chat.
func (s *Service) SendMessage(ctx context.Context, chatID, uid, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	chat, err := s.Chat(ctx, chatID, uid)
	if err != nil {
		return nil, err
	}
	if chat.Status != model.ChatActive {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrChatInactive)
	}

	return s.store.AddMessage(ctx, chatID, &model.Message{
		SenderID:  uid,
		Text:      text,
		Timestamp: s.now(),
	})
}

// MarkRead marks the messages other members sent to uid as read.
func (s *Service) MarkRead(ctx context.Context, chatID, uid string) (int, error) {
	if _, err := s.Chat(ctx, chatID, uid); err != nil {
		return 0, err
	}
	return s.store.MarkMessagesRead(ctx, chatID, uid)
}

// ExpireChats closes every active chat whose expiry has passed.
func (s *Service) ExpireChats(ctx context.Context) (int, error) {
	n, err := s.store.ExpireChats(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[AI] 期限切れのチャット%d件を終了しました", n)
	}
	return n, nil
}
