package service

import (
	"context"
	"errors"
	"log/slog"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

// Authorizer decides room access. Every decision re-reads the principal and the
// room from the store so revocations apply to the very next call.
type Authorizer struct {
	principals domain.PrincipalRepository
	rooms      domain.RoomRepository
}

func NewAuthorizer(principals domain.PrincipalRepository, rooms domain.RoomRepository) *Authorizer {
	return &Authorizer{
		principals: principals,
		rooms:      rooms,
	}
}

// CanRead reports whether p may join roomID and receive its messages.
func (a *Authorizer) CanRead(ctx context.Context, p domain.Principal, roomID int64) bool {
	return a.decide(ctx, "read", p, roomID)
}

// CanWrite reports whether p may post to roomID.
func (a *Authorizer) CanWrite(ctx context.Context, p domain.Principal, roomID int64) bool {
	return a.decide(ctx, "write", p, roomID)
}

func (a *Authorizer) decide(ctx context.Context, action string, p domain.Principal, roomID int64) (allowed bool) {
	logger := observability.FromContext(ctx).With(
		slog.String("action", action),
		slog.Int64("principal_id", p.ID),
		slog.Int64("room_id", roomID),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("authorization panicked", slog.Any("panic", r))
			allowed = false
		}
	}()

	if p.IsAnonymous() {
		return false
	}

	fresh, err := a.principals.GetByID(ctx, p.ID)
	if err != nil || fresh == nil {
		if err != nil && !errors.Is(err, domain.ErrPrincipalNotFound) {
			logger.Warn("principal lookup failed", slog.String("error", err.Error()))
		}
		return false
	}

	// Block wins over everything, including the moderator bypass.
	if fresh.IsBlocked {
		return false
	}

	access, err := a.rooms.Access(ctx, roomID, fresh.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			logger.Warn("room lookup failed", slog.String("error", err.Error()))
		}
		return false
	}

	if fresh.IsModerator {
		return true
	}
	return access.IsMember && !access.IsBlacklisted
}
