package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chat-relay/internal/domain"
)

// PrincipalRepository implements domain.PrincipalRepository for PostgreSQL
type PrincipalRepository struct {
	db *sql.DB
}

// NewPrincipalRepository creates a new PostgreSQL principal repository
func NewPrincipalRepository(db *sql.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// GetByID retrieves a principal with its current moderator and block flags
func (r *PrincipalRepository) GetByID(ctx context.Context, id int64) (*domain.Principal, error) {
	defer timeQuery("select", "users")()

	query := `
		SELECT id, username, is_moderator, is_blocked, created_at
		FROM users
		WHERE id = $1
	`
	p := &domain.Principal{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Username,
		&p.IsModerator,
		&p.IsBlocked,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}
