package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("principal is not a member of this room")
)

// Room represents a chat room
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomAccess is the membership state of one principal in one room.
// Storage does not keep members and blacklist exclusive, so both flags may be set.
type RoomAccess struct {
	IsMember      bool
	IsBlacklisted bool
}

// RoomRepository defines the interface for room data access
type RoomRepository interface {
	// Access returns ErrRoomNotFound when the room does not exist.
	Access(ctx context.Context, roomID, principalID int64) (RoomAccess, error)
}
