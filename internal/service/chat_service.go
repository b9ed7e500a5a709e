package service

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"chat-relay/internal/domain"
)

const DefaultHistoryLimit = 20

type ChatService struct {
	messageRepo  domain.MessageRepository
	historyLimit int
}

func NewChatService(messageRepo domain.MessageRepository, historyLimit int) *ChatService {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ChatService{
		messageRepo:  messageRepo,
		historyLimit: historyLimit,
	}
}

// Post persists a message from sender. Content must already be validated.
// Any store failure, including a sender blocked inside the transaction, is
// reported as domain.ErrStoreFailure.
func (s *ChatService) Post(ctx context.Context, sender domain.Principal, roomID int64, content string) (*domain.Message, error) {
	msg := &domain.Message{
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Content:    content,
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}
	return msg, nil
}

// History returns up to the configured number of recent messages, oldest first.
func (s *ChatService) History(ctx context.Context, roomID int64) ([]*domain.Message, error) {
	messages, err := s.messageRepo.RecentByRoom(ctx, roomID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}
	return lo.Reverse(messages), nil
}
