package domain

import (
	"context"
	"errors"
	"time"
)

var ErrSenderBlocked = errors.New("sender is blocked")

// Message represents a chat message. Messages are never mutated after creation.
type Message struct {
	ID         int64     `json:"id"`
	RoomID     int64     `json:"room_id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	// Create assigns ID, SenderName and CreatedAt. CreatedAt strictly increases per room.
	Create(ctx context.Context, message *Message) error
	// RecentByRoom returns at most limit messages, newest first.
	RecentByRoom(ctx context.Context, roomID int64, limit int) ([]*Message, error)
}
