package websocket

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/samber/lo"

	"chat-relay/internal/observability"
)

var ErrHubClosed = errors.New("hub is shut down")

// roomGroup is the set of live clients bound to one room.
type roomGroup struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

func (g *roomGroup) snapshot() []*Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	members := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		members = append(members, c)
	}
	return members
}

// Hub maintains active clients per room and fans payloads out to them.
//
// Membership changes take the registry write lock; deliveries take a snapshot
// of one room under its group lock and write to client queues with no lock
// held, so join and leave are atomic with respect to any delivery.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int64]*roomGroup
	closed bool

	done     chan struct{}
	shutOnce sync.Once
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int64]*roomGroup),
		done:  make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Shutdown is called, then closes every
// remaining session.
func (h *Hub) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		slog.Info("hub shutting down gracefully")
		h.Shutdown()
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

// Shutdown asks every session to close with 1001 and rejects further
// registrations.
func (h *Hub) Shutdown() {
	h.shutOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		var all []*Client
		for _, group := range h.rooms {
			all = append(all, group.snapshot()...)
		}
		h.mu.Unlock()

		for _, c := range all {
			c.signalShutdown()
		}
		close(h.done)

		slog.Info("hub shutdown complete", slog.Int("signalled_sessions", len(all)))
	})
}

// Register adds a client to its room.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	group, ok := h.rooms[c.roomID]
	if !ok {
		group = &roomGroup{clients: make(map[*Client]struct{})}
		h.rooms[c.roomID] = group
	}

	group.mu.Lock()
	group.clients[c] = struct{}{}
	group.mu.Unlock()

	observability.WebSocketConnectionsActive.WithLabelValues(roomLabel(c.roomID)).Inc()
	slog.Info("client registered",
		slog.String("conn_id", c.id),
		slog.Int64("principal_id", c.principal.ID),
		slog.Int64("room_id", c.roomID))
	return nil
}

// Unregister removes a client from its room. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.rooms[c.roomID]
	if !ok {
		return
	}

	group.mu.Lock()
	_, present := group.clients[c]
	delete(group.clients, c)
	empty := len(group.clients) == 0
	group.mu.Unlock()

	if !present {
		return
	}

	// Clean up empty room
	if empty {
		delete(h.rooms, c.roomID)
	}

	observability.WebSocketConnectionsActive.WithLabelValues(roomLabel(c.roomID)).Dec()
	slog.Info("client unregistered",
		slog.String("conn_id", c.id),
		slog.Int64("principal_id", c.principal.ID),
		slog.Int64("room_id", c.roomID))
}

func (h *Hub) members(roomID int64) []*Client {
	h.mu.RLock()
	group, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return group.snapshot()
}

// Broadcast delivers payload to every client live in roomID at call time and
// returns how many accepted it. Clients that closed concurrently are skipped.
func (h *Hub) Broadcast(roomID int64, payload []byte) (delivered int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("broadcast panicked",
				slog.Int64("room_id", roomID),
				slog.Any("panic", r))
		}
	}()

	for _, c := range h.members(roomID) {
		if c.enqueue(event{kind: eventChat, payload: payload}) {
			delivered++
		}
	}

	if delivered > 0 {
		observability.WebSocketMessagesSent.WithLabelValues(roomLabel(roomID), FrameChatMessage).Add(float64(delivered))
	}
	return delivered
}

// Publish implements Publisher for a single process.
func (h *Hub) Publish(ctx context.Context, roomID int64, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	h.Broadcast(roomID, payload)
	return nil
}

// SendTo signals every client in roomID that principalID has been evicted. Each
// client compares the target with its own principal; the return value counts
// the clients bound to principalID.
func (h *Hub) SendTo(roomID, principalID int64, reason string) (targeted int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("eviction signal panicked",
				slog.Int64("room_id", roomID),
				slog.Any("panic", r))
		}
	}()

	for _, c := range h.members(roomID) {
		c.signalEvict(principalID, reason)
		if c.principal.ID == principalID {
			targeted++
		}
	}
	return targeted
}

// Rooms lists rooms with at least one live client.
func (h *Hub) Rooms() []int64 {
	h.mu.RLock()
	rooms := lo.Keys(h.rooms)
	h.mu.RUnlock()

	slices.Sort(rooms)
	return rooms
}

// Count returns the number of live clients in roomID.
func (h *Hub) Count(roomID int64) int {
	return len(h.members(roomID))
}

func roomLabel(roomID int64) string {
	return strconv.FormatInt(roomID, 10)
}
