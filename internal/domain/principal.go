package domain

import (
	"context"
	"errors"
	"time"
)

var ErrPrincipalNotFound = errors.New("principal not found")

// Principal is an authenticated actor. The zero value is the anonymous principal.
type Principal struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	IsModerator bool      `json:"is_moderator"`
	IsBlocked   bool      `json:"is_blocked"`
	CreatedAt   time.Time `json:"created_at"`
}

// Anonymous is returned whenever a credential cannot be resolved to a principal.
var Anonymous = Principal{}

// IsAnonymous reports whether p carries no identity.
func (p Principal) IsAnonymous() bool {
	return p.ID == 0
}

// PrincipalRepository reads principals owned by the account system
type PrincipalRepository interface {
	GetByID(ctx context.Context, id int64) (*Principal, error)
}
