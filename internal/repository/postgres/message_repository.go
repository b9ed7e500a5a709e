package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-relay/internal/domain"
)

const (
	selectSenderQuery = `SELECT username, is_blocked FROM users WHERE id = $1`

	lockRoomQuery = `SELECT id FROM rooms WHERE id = $1 FOR NO KEY UPDATE`

	// created_at is strictly increasing per room even if the wall clock steps back.
	insertMessageQuery = `
		INSERT INTO messages (room_id, sender_id, content, created_at)
		SELECT $1, $2, $3, GREATEST(
			clock_timestamp(),
			COALESCE(MAX(created_at) + interval '1 microsecond', clock_timestamp())
		)
		FROM messages
		WHERE room_id = $1
		RETURNING id, created_at
	`

	recentMessagesQuery = `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2
	`
)

// MessageRepository implements domain.MessageRepository for PostgreSQL
type MessageRepository struct {
	db *sql.DB
	tx *TxManager
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db, tx: NewTxManager(db)}
}

// Create inserts a message. The room row is locked for the duration of the
// transaction so concurrent writers to one room are serialized, and the sender's
// block flag is re-checked inside the same transaction.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	defer timeQuery("insert", "messages")()

	return r.tx.WithTx(ctx, "messages", func(tx *sql.Tx) error {
		var blocked bool
		err := tx.QueryRowContext(ctx, selectSenderQuery, message.SenderID).Scan(&message.SenderName, &blocked)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrPrincipalNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load sender: %w", err)
		}
		if blocked {
			return domain.ErrSenderBlocked
		}

		var roomID int64
		err = tx.QueryRowContext(ctx, lockRoomQuery, message.RoomID).Scan(&roomID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock room: %w", err)
		}

		err = tx.QueryRowContext(ctx, insertMessageQuery,
			message.RoomID,
			message.SenderID,
			message.Content,
		).Scan(&message.ID, &message.CreatedAt)
		if IsForeignKeyViolation(err, "") {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
}

// RecentByRoom retrieves the newest messages for a room, newest first
func (r *MessageRepository) RecentByRoom(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	defer timeQuery("select", "messages")()

	rows, err := r.db.QueryContext(ctx, recentMessagesQuery, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0, limit)
	for rows.Next() {
		msg := &domain.Message{}
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Content,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
