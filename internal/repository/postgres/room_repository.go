package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-relay/internal/domain"
)

// RoomRepository implements domain.RoomRepository for PostgreSQL
type RoomRepository struct {
	db *sql.DB
}

// NewRoomRepository creates a new PostgreSQL room repository
func NewRoomRepository(db *sql.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// Access reports membership and blacklist state in a single round trip.
func (r *RoomRepository) Access(ctx context.Context, roomID, principalID int64) (domain.RoomAccess, error) {
	defer timeQuery("select", "room_members")()

	query := `
		SELECT
			EXISTS(SELECT 1 FROM room_members WHERE room_id = r.id AND user_id = $2),
			EXISTS(SELECT 1 FROM room_blacklist WHERE room_id = r.id AND user_id = $2)
		FROM rooms r
		WHERE r.id = $1
	`
	var access domain.RoomAccess
	err := r.db.QueryRowContext(ctx, query, roomID, principalID).Scan(
		&access.IsMember,
		&access.IsBlacklisted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoomAccess{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.RoomAccess{}, fmt.Errorf("failed to check room access: %w", err)
	}
	return access, nil
}
