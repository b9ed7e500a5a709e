package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

// MembershipChannel is the NOTIFY channel written by the schema triggers.
const MembershipChannel = "chat_membership"

const listenerPingInterval = 90 * time.Second

// MembershipHandler receives decoded membership events.
type MembershipHandler interface {
	Handle(ctx context.Context, event domain.MembershipEvent) error
}

// MembershipListener turns trigger notifications into membership events. The
// notifications fire after commit, so they complement the pre-removal events the
// room service publishes on the broker.
type MembershipListener struct {
	dsn     string
	handler MembershipHandler
}

// NewMembershipListener creates a listener for dsn that forwards to handler
func NewMembershipListener(dsn string, handler MembershipHandler) *MembershipListener {
	return &MembershipListener{dsn: dsn, handler: handler}
}

// Run listens until ctx is cancelled. pq.Listener reconnects on its own.
func (l *MembershipListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			observability.Warn("membership listener disconnected", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			observability.Info("membership listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			observability.Warn("membership listener connection attempt failed", slog.Any("error", err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(MembershipChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", MembershipChannel, err)
	}

	observability.Info("listening for membership notifications", slog.String("channel", MembershipChannel))

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; anything sent while disconnected is lost
			if n == nil {
				continue
			}
			l.Dispatch(ctx, n.Extra)
		case <-ticker.C:
			go listener.Ping()
		}
	}
}

// Dispatch decodes one notification payload and hands it to the handler.
// Malformed payloads are logged and dropped.
func (l *MembershipListener) Dispatch(ctx context.Context, payload string) {
	event, err := domain.ParseMembershipEvent([]byte(payload))
	if err != nil {
		observability.Warn("dropping membership notification",
			slog.String("error", err.Error()),
			slog.String("payload", payload))
		return
	}

	if err := l.handler.Handle(ctx, event); err != nil {
		observability.Error("membership notification handler failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
