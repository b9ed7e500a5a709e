package service

import (
	"context"
	"log/slog"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

// Evictor terminates live sessions. Implemented by websocket.Hub.
type Evictor interface {
	SendTo(roomID, principalID int64, reason string) int
	Rooms() []int64
}

// MembershipNotifier turns membership mutations into eviction signals for the
// sessions the mutation affects. Signals for principals without a live session
// are no-ops, so duplicate events from several sources are harmless.
type MembershipNotifier struct {
	evictor Evictor
}

func NewMembershipNotifier(evictor Evictor) *MembershipNotifier {
	return &MembershipNotifier{evictor: evictor}
}

// Handle implements postgres.MembershipHandler and messaging.MembershipHandler.
func (n *MembershipNotifier) Handle(ctx context.Context, event domain.MembershipEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	logger := observability.FromContext(ctx).With(
		slog.String("type", string(event.Type)),
		slog.Int64("principal_id", event.PrincipalID),
	)

	switch event.Type {
	case domain.MemberRemoving, domain.MemberRemoved, domain.MemberBlacklisted:
		n.evict(logger, event.RoomID, event.PrincipalID, domain.EvictReasonRemoved)

	case domain.PrincipalBlocked:
		for _, roomID := range n.evictor.Rooms() {
			n.evict(logger, roomID, event.PrincipalID, domain.EvictReasonBlocked)
		}
	}

	return nil
}

func (n *MembershipNotifier) evict(logger *slog.Logger, roomID, principalID int64, reason string) {
	signalled := n.evictor.SendTo(roomID, principalID, reason)
	if signalled > 0 {
		logger.Info("eviction signalled",
			slog.Int64("room_id", roomID),
			slog.String("reason", reason),
			slog.Int("sessions", signalled))
	}
}
