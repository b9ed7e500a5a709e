// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the chat-relay application.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat-relay/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockStore          = errors.New("mock: store unavailable")
)

// MockPrincipalRepository implements domain.PrincipalRepository for testing
type MockPrincipalRepository struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	GetByIDFunc func(ctx context.Context, id int64) (*domain.Principal, error)

	// In-memory storage for simple tests
	Principals map[int64]*domain.Principal
	Calls      int
}

// NewMockPrincipalRepository creates a new MockPrincipalRepository seeded with principals
func NewMockPrincipalRepository(principals ...*domain.Principal) *MockPrincipalRepository {
	m := &MockPrincipalRepository{
		Principals: make(map[int64]*domain.Principal),
	}
	for _, p := range principals {
		m.Principals[p.ID] = p
	}
	return m
}

func (m *MockPrincipalRepository) GetByID(ctx context.Context, id int64) (*domain.Principal, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.Principals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrPrincipalNotFound
}

// SetBlocked flips the block flag of a stored principal
func (m *MockPrincipalRepository) SetBlocked(id int64, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Principals[id]; ok {
		p.IsBlocked = blocked
	}
}

// MockRoomRepository implements domain.RoomRepository for testing
type MockRoomRepository struct {
	mu sync.RWMutex

	// Function overrides
	AccessFunc func(ctx context.Context, roomID, principalID int64) (domain.RoomAccess, error)

	// In-memory storage
	Rooms     map[int64]*domain.Room
	Members   map[int64]map[int64]bool
	Blacklist map[int64]map[int64]bool
}

// NewMockRoomRepository creates a new MockRoomRepository with initialized maps
func NewMockRoomRepository() *MockRoomRepository {
	return &MockRoomRepository{
		Rooms:     make(map[int64]*domain.Room),
		Members:   make(map[int64]map[int64]bool),
		Blacklist: make(map[int64]map[int64]bool),
	}
}

// AddRoom stores a room and makes its owner a member
func (m *MockRoomRepository) AddRoom(room *domain.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rooms[room.ID] = room
	if room.OwnerID != 0 {
		m.setLocked(m.Members, room.ID, room.OwnerID, true)
	}
}

// AddMember adds principalID to the member set of roomID
func (m *MockRoomRepository) AddMember(roomID, principalID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.Members, roomID, principalID, true)
}

// RemoveMember drops principalID from the member set of roomID
func (m *MockRoomRepository) RemoveMember(roomID, principalID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.Members, roomID, principalID, false)
}

// AddToBlacklist adds principalID to the blacklist of roomID
func (m *MockRoomRepository) AddToBlacklist(roomID, principalID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.Blacklist, roomID, principalID, true)
}

func (m *MockRoomRepository) setLocked(set map[int64]map[int64]bool, roomID, principalID int64, v bool) {
	if set[roomID] == nil {
		set[roomID] = make(map[int64]bool)
	}
	if v {
		set[roomID][principalID] = true
	} else {
		delete(set[roomID], principalID)
	}
}

func (m *MockRoomRepository) Access(ctx context.Context, roomID, principalID int64) (domain.RoomAccess, error) {
	if m.AccessFunc != nil {
		return m.AccessFunc(ctx, roomID, principalID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.Rooms[roomID]; !ok {
		return domain.RoomAccess{}, domain.ErrRoomNotFound
	}
	return domain.RoomAccess{
		IsMember:      m.Members[roomID][principalID],
		IsBlacklisted: m.Blacklist[roomID][principalID],
	}, nil
}

// MockMessageRepository implements domain.MessageRepository for testing
type MockMessageRepository struct {
	mu sync.RWMutex

	// Function overrides
	CreateFunc       func(ctx context.Context, message *domain.Message) error
	RecentByRoomFunc func(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error)

	// Used to fill SenderName on Create
	Principals *MockPrincipalRepository

	// In-memory storage, in creation order
	Messages []*domain.Message
	nextID   int64
	last     time.Time
}

// NewMockMessageRepository creates a new MockMessageRepository with initialized slices
func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		Messages: make([]*domain.Message, 0),
	}
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, message)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Principals != nil {
		p, err := m.Principals.GetByID(ctx, message.SenderID)
		if err != nil {
			return err
		}
		if p.IsBlocked {
			return domain.ErrSenderBlocked
		}
		message.SenderName = p.Username
	}

	m.nextID++
	message.ID = m.nextID

	now := time.Now()
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	message.CreatedAt = now

	stored := *message
	m.Messages = append(m.Messages, &stored)
	return nil
}

func (m *MockMessageRepository) RecentByRoom(ctx context.Context, roomID int64, limit int) ([]*domain.Message, error) {
	if m.RecentByRoomFunc != nil {
		return m.RecentByRoomFunc(ctx, roomID, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.Message, 0, limit)
	for i := len(m.Messages) - 1; i >= 0 && len(result) < limit; i-- {
		if m.Messages[i].RoomID == roomID {
			result = append(result, m.Messages[i])
		}
	}
	return result, nil
}

// Stored returns a copy of every stored message for roomID, oldest first
func (m *MockMessageRepository) Stored(roomID int64) []*domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.Message, 0)
	for _, msg := range m.Messages {
		if msg.RoomID == roomID {
			result = append(result, msg)
		}
	}
	return result
}

// MockPublisher implements websocket.Publisher for testing
type MockPublisher struct {
	mu sync.RWMutex

	// Function overrides
	PublishFunc func(ctx context.Context, roomID int64, payload []byte) error

	// Call tracking
	Calls []PublishCall
}

// PublishCall records a call to Publish
type PublishCall struct {
	RoomID  int64
	Payload []byte
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Calls: make([]PublishCall, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, roomID int64, payload []byte) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, PublishCall{RoomID: roomID, Payload: append([]byte(nil), payload...)})
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, roomID, payload)
	}
	return nil
}

// GetCalls returns all recorded publish calls
func (m *MockPublisher) GetCalls() []PublishCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PublishCall{}, m.Calls...)
}

// MockEvictor implements service.Evictor for testing
type MockEvictor struct {
	mu sync.Mutex

	RoomIDs []int64
	Evicted []EvictCall
}

// EvictCall records a call to SendTo
type EvictCall struct {
	RoomID      int64
	PrincipalID int64
	Reason      string
}

func (m *MockEvictor) SendTo(roomID, principalID int64, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Evicted = append(m.Evicted, EvictCall{RoomID: roomID, PrincipalID: principalID, Reason: reason})
	return 1
}

func (m *MockEvictor) Rooms() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64{}, m.RoomIDs...)
}

// GetEvicted returns all recorded evictions
func (m *MockEvictor) GetEvicted() []EvictCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EvictCall{}, m.Evicted...)
}
